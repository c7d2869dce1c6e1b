// Package wakeup implements the Wakeup Bus (spec.md §4.4): an
// edge-triggered notification primitive that lets idle workers skip their
// poll backoff when new work appears. Grounded on core/wakeup.py's
// register/wake/wake_all/async_wait, adapted from Python's
// multiprocessing.Event (shared memory, single-machine-only) to Go
// channels for in-process waiters plus the write-once signal-file
// mechanism spec.md §5 sanctions for cross-process notification.
package wakeup

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Bus coalesces notifications per agent id: any number of Notify calls
// before the next Wait produce at most one wake, matching spec.md §4.4's
// "multiple notifies may coalesce into a single wake" semantics.
type Bus struct {
	mu         sync.Mutex
	events     map[string]chan struct{}
	signalDir  string // spec.md §5's .task_signals/ scratch directory; "" disables it
	pollPeriod time.Duration
}

// New returns a Bus. signalDir, if non-empty, is used as the best-effort
// cross-process signal-file directory of spec.md §5; pass "" to run
// in-process only (e.g. in tests or an in_process runtime mode).
func New(signalDir string) *Bus {
	return &Bus{
		events:     make(map[string]chan struct{}),
		signalDir:  signalDir,
		pollPeriod: 50 * time.Millisecond,
	}
}

func (b *Bus) channel(agentID string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.events[agentID]
	if !ok {
		ch = make(chan struct{}, 1)
		b.events[agentID] = ch
	}
	return ch
}

// Register pre-creates agentID's event, mirroring core/wakeup.py's
// register() called from the parent process before spawning a worker.
func (b *Bus) Register(agentID string) {
	b.channel(agentID)
}

func (b *Bus) signalPath(agentID string) string {
	if b.signalDir == "" {
		return ""
	}
	return filepath.Join(b.signalDir, agentID+".signal")
}

// Notify wakes agentID: a pending Wait returns immediately, and — if a
// signal directory is configured — a zero-byte file is created and left
// for the receiver to remove, so a separate OS process polling the same
// directory picks it up too.
func (b *Bus) Notify(agentID string) {
	ch := b.channel(agentID)
	select {
	case ch <- struct{}{}:
	default:
	}
	b.touchSignal(agentID)
}

// NotifyAll wakes every agent Register or Notify has ever mentioned.
func (b *Bus) NotifyAll() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.events))
	for id := range b.events {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.Notify(id)
	}
}

// touchSignal creates agentID's zero-byte signal file but does not remove
// it — removal happens on consumption, in checkSignalFile, or is left to
// a periodic janitor. spec.md §9's Open Question on cleanup policy treats
// both as acceptable.
func (b *Bus) touchSignal(agentID string) {
	path := b.signalPath(agentID)
	if path == "" {
		return
	}
	if err := os.MkdirAll(b.signalDir, 0o755); err != nil {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		return
	}
	f.Close()
}

// Wait blocks until agentID is notified or timeout elapses, whichever is
// first, then clears the event. Returns true iff woken by a notification
// rather than the timeout.
func (b *Bus) Wait(agentID string, timeout time.Duration) bool {
	ch := b.channel(agentID)
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return b.checkSignalFile(agentID)
	}
}

// checkSignalFile is a last-chance fallback for cross-process wakeups
// whose in-process channel isn't shared with the notifier (a separate OS
// process): it checks for the signal file's transient existence, best
// effort, per spec.md §5's "reception is not required for correctness".
func (b *Bus) checkSignalFile(agentID string) bool {
	path := b.signalPath(agentID)
	if path == "" {
		return false
	}
	if _, err := os.Stat(path); err == nil {
		os.Remove(path)
		return true
	}
	return false
}
