package lock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// helperReady is printed by the helper once the lock is held.
const helperReady = "locked"

// helperLock holds the lock through a child process: flock(1) takes the lock
// and then runs cat, which lives until its stdin is closed.
type helperLock struct {
	path, bin string

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (l *helperLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd != nil {
		return ErrAlreadyHeld
	}

	cmd := exec.Command(l.bin, "-x", l.path, "-c", "echo "+helperReady+"; exec cat")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %w", ErrUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %w", ErrUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %w", ErrUnavailable, l.bin, err)
	}

	ready := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(stdout).ReadString('\n')
		switch {
		case err != nil:
			ready <- fmt.Errorf("%w: helper exited before locking: %w", ErrUnavailable, err)
		case strings.TrimSpace(line) != helperReady:
			ready <- fmt.Errorf("%w: unexpected helper output %q", ErrUnavailable, line)
		default:
			ready <- nil
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			kill(cmd, stdin)
			_ = cmd.Wait()
			return err
		}
	case <-ctx.Done():
		kill(cmd, stdin)
		<-ready
		_ = cmd.Wait()
		return fmt.Errorf("lock: acquire %s: %w", l.path, ctx.Err())
	}

	l.cmd, l.stdin = cmd, stdin
	return nil
}

// kill stops the helper's whole process group so no grandchild keeps the
// stdout pipe open. The caller reaps it.
func kill(cmd *exec.Cmd, stdin io.Closer) {
	_ = stdin.Close()
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}

func (l *helperLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd == nil {
		return ErrNotHeld
	}
	cmd, stdin := l.cmd, l.stdin
	l.cmd, l.stdin = nil, nil

	closeErr := stdin.Close()
	waitErr := cmd.Wait()
	if closeErr != nil {
		return fmt.Errorf("lock: close helper stdin: %w", closeErr)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return fmt.Errorf("lock: wait for helper: %w", waitErr)
	}
	return nil
}
