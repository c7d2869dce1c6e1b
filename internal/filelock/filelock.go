// Package filelock provides cross-process advisory file locking used by
// every durable store in loom (task board, context bus, mailboxes,
// sub-task map). Locks are exclusive OS advisory locks (flock(2)) taken on
// a sibling ".lock" file, never on the data file itself, so a torn write
// never holds the lock hostage.
package filelock

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// Lock is an exclusive advisory file lock. It is not re-entrant: acquiring
// it again while already holding it blocks. One Lock value
// should be shared by every goroutine in a process that touches the
// underlying resource; Lock additionally serializes intra-process access
// with a mutex so goroutine-level and process-level exclusion compose.
type Lock struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// New returns a Lock guarding the given lockfile path. The file is created
// on first Acquire if it does not exist.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Acquire blocks until the exclusive lock is held, taking the intra-process
// mutex first and then the cross-process flock. Release must be called
// exactly once per successful Acquire.
func (l *Lock) Acquire() error {
	l.mu.Lock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("filelock: open %s: %w", l.path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		l.mu.Unlock()
		return fmt.Errorf("filelock: flock %s: %w", l.path, err)
	}
	l.f = f
	return nil
}

// Release drops the lock acquired by Acquire.
func (l *Lock) Release() error {
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("filelock: unlock %s: %w", l.path, err)
	}
	return closeErr
}

// With runs fn while holding the lock.
func (l *Lock) With(fn func() error) error {
	if err := l.Acquire(); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
