package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	initialBackoff = time.Millisecond
	maxBackoff     = 25 * time.Millisecond
)

type flockLock struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// Acquire polls a non-blocking exclusive flock with capped exponential
// backoff so ctx cancellation is observed between attempts.
func (l *flockLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return ErrAlreadyHeld
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrUnavailable, l.path, err)
	}

	backoff := initialBackoff
	for {
		err := flockRetryEINTR(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			l.file = f
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			_ = f.Close()
			return fmt.Errorf("%w: flock: %w", ErrUnavailable, err)
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			_ = f.Close()
			return fmt.Errorf("lock: acquire %s: %w", l.path, ctx.Err())
		case <-t.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (l *flockLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ErrNotHeld
	}
	f := l.file
	l.file = nil
	unlockErr := flockRetryEINTR(int(f.Fd()), unix.LOCK_UN)
	closeErr := f.Close()
	if unlockErr != nil {
		return fmt.Errorf("lock: unlock: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("lock: close: %w", closeErr)
	}
	return nil
}

func flockRetryEINTR(fd, how int) error {
	for {
		err := unix.Flock(fd, how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
