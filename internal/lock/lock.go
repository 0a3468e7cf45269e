// Package lock provides the cross-process advisory write lock guarding a
// repository. Two strategies exist: a native flock(2) on the lock file, and a
// helper process running the flock(1) utility for platforms or sandboxes
// where the syscall is not usable directly.
package lock

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// FileName is the lock file created at the repository root.
const FileName = ".mdbase.lock"

var (
	// ErrAlreadyHeld is returned when Acquire is called on a handle that
	// already holds the lock.
	ErrAlreadyHeld = errors.New("lock: already held by this handle")
	// ErrNotHeld is returned by Release on a handle that holds nothing.
	ErrNotHeld = errors.New("lock: not held")
	// ErrUnavailable reports that the underlying primitive could not be used.
	ErrUnavailable = errors.New("lock: primitive unavailable")
)

// Strategy selects the locking primitive.
type Strategy string

// Strategies.
const (
	StrategyFlock  Strategy = "flock"
	StrategyHelper Strategy = "helper"
)

// Lock is an exclusive advisory lock. Acquire blocks until the lock is free or
// ctx is done; there is no built-in timeout.
type Lock interface {
	Acquire(ctx context.Context) error
	Release() error
}

// Locker hands out lock handles for one repository.
type Locker interface {
	New() Lock
}

// New returns a Locker for the repository rooted at root.
func New(root string, strategy Strategy) (Locker, error) {
	path := filepath.Join(root, FileName)
	switch strategy {
	case "", StrategyFlock:
		return flockLocker{path: path}, nil
	case StrategyHelper:
		return helperLocker{path: path, bin: "flock"}, nil
	default:
		return nil, fmt.Errorf("lock: unknown strategy %q", strategy)
	}
}

// With runs fn while holding a fresh handle from l. The lock is released on
// every return path, including panics in fn.
func With(ctx context.Context, l Locker, fn func() error) (err error) {
	h := l.New()
	if err := h.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if rerr := h.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}

type flockLocker struct{ path string }

func (f flockLocker) New() Lock { return &flockLock{path: f.path} }

type helperLocker struct{ path, bin string }

func (h helperLocker) New() Lock { return &helperLock{path: h.path, bin: h.bin} }
