// Package channel implements the External Channel contract (spec.md §6.2):
// a per-task event stream plus file/text delivery sinks, adapted from the
// teacher's QAChannel non-blocking send/receive pattern.
package channel

import (
	"context"
	"sync"
)

// Phase is a task's current external-facing phase, per spec.md §6.2.
type Phase string

const (
	PhasePlanning    Phase = "planning"
	PhaseExecuting   Phase = "executing"
	PhaseCritiquing  Phase = "critiquing"
	PhaseSynthesizing Phase = "synthesizing"
)

// Event is one item of the per-task event stream.
type Event struct {
	Kind Kind

	// status
	Phase Phase
	Agent string
	Tool  string

	// partial
	Text string

	// complete
	Result string
	TaskID string
	Files  []string
}

// Kind discriminates an Event's populated fields.
type Kind string

const (
	KindStatus   Kind = "status"
	KindPartial  Kind = "partial"
	KindComplete Kind = "complete"
)

// Sink receives events and file/text deliveries for one task. Implementations
// are expected to be non-blocking and safe for concurrent use, mirroring the
// teacher's QAChannel buffered-channel shape.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
	SendFile(ctx context.Context, path, caption string) error
	DeliverText(ctx context.Context, text string) error
}

// Channel fans events for many tasks out to per-task registered Sinks. A
// task with no registered sink simply drops its events — progress reporting
// is best-effort observability, never load-bearing for correctness.
type Channel struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// New returns an empty Channel.
func New() *Channel {
	return &Channel{sinks: make(map[string]Sink)}
}

// Register attaches sink to taskID, replacing any previous registration.
func (c *Channel) Register(taskID string, sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks[taskID] = sink
}

// Unregister detaches taskID's sink, typically once the task reaches a
// terminal state.
func (c *Channel) Unregister(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sinks, taskID)
}

func (c *Channel) sinkFor(taskID string) (Sink, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sinks[taskID]
	return s, ok
}

// Status emits a status(phase, agent, tool?) event for taskID.
func (c *Channel) Status(ctx context.Context, taskID string, phase Phase, agent, tool string) error {
	s, ok := c.sinkFor(taskID)
	if !ok {
		return nil
	}
	return s.Emit(ctx, Event{Kind: KindStatus, TaskID: taskID, Phase: phase, Agent: agent, Tool: tool})
}

// Partial emits a streaming text increment for taskID.
func (c *Channel) Partial(ctx context.Context, taskID, text string) error {
	s, ok := c.sinkFor(taskID)
	if !ok {
		return nil
	}
	return s.Emit(ctx, Event{Kind: KindPartial, TaskID: taskID, Text: text})
}

// Complete emits the final synthesis for taskID, with optional file
// attachments, and unregisters the sink afterward.
func (c *Channel) Complete(ctx context.Context, taskID, result string, files []string) error {
	s, ok := c.sinkFor(taskID)
	defer c.Unregister(taskID)
	if !ok {
		return nil
	}
	return s.Emit(ctx, Event{Kind: KindComplete, TaskID: taskID, Result: result, Files: files})
}

// SendFile forwards a file attachment to taskID's sink.
func (c *Channel) SendFile(ctx context.Context, taskID, path, caption string) error {
	s, ok := c.sinkFor(taskID)
	if !ok {
		return nil
	}
	return s.SendFile(ctx, path, caption)
}

// DeliverText forwards free-form text to taskID's sink, independent of the
// structured Event stream (e.g. for an immediate direct-answer reply).
func (c *Channel) DeliverText(ctx context.Context, taskID, text string) error {
	s, ok := c.sinkFor(taskID)
	if !ok {
		return nil
	}
	return s.DeliverText(ctx, text)
}

// RecordingSink is an in-memory Sink used by tests.
type RecordingSink struct {
	mu     sync.Mutex
	Events []Event
	Files  [][2]string // [path, caption]
	Texts  []string
}

func NewRecordingSink() *RecordingSink { return &RecordingSink{} }

func (r *RecordingSink) Emit(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, ev)
	return nil
}

func (r *RecordingSink) SendFile(ctx context.Context, path, caption string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Files = append(r.Files, [2]string{path, caption})
	return nil
}

func (r *RecordingSink) DeliverText(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Texts = append(r.Texts, text)
	return nil
}
