// Package tool defines the Tool Dispatcher contract (spec.md §6.3): a
// registered schema catalog the core routes calls through without
// interpreting tool semantics.
package tool

import (
	"context"
	"fmt"
	"sync"
)

// ErrorKind classifies a dispatch failure for structured surfacing back to
// the model conversation, per spec.md §6.3/§7.
type ErrorKind string

const (
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindInvalidInput ErrorKind = "invalid_input"
	ErrorKindExecution    ErrorKind = "execution"
	ErrorKindTimeout      ErrorKind = "timeout"
)

// Error is the structured {error, kind, message} shape of spec.md §6.3.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("tool: %s: %s", e.Kind, e.Message) }

// Result is the {ok, value} | {error, kind, message} union of spec.md §6.3.
type Result struct {
	OK    bool
	Value any
	Err   *Error
}

// Schema describes a tool's name, purpose, and parameter shape for
// inclusion in a model's tools manifest (spec.md §6.1).
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-schema-shaped parameter description
}

// Handler executes one tool invocation.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Dispatcher is the schema catalog + invocation router of spec.md §6.3.
type Dispatcher struct {
	mu       sync.RWMutex
	schemas  map[string]Schema
	handlers map[string]Handler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		schemas:  make(map[string]Schema),
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool under schema.Name, replacing any prior registration.
func (d *Dispatcher) Register(schema Schema, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schemas[schema.Name] = schema
	d.handlers[schema.Name] = handler
}

// Schemas returns every registered tool's schema, suitable for inclusion in
// a chat request's Tools field.
func (d *Dispatcher) Schemas() []Schema {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Schema, 0, len(d.schemas))
	for _, s := range d.schemas {
		out = append(out, s)
	}
	return out
}

// Invoke dispatches toolName with params and has no Go error return: an
// unknown tool and a registered tool's own failure are both carried in
// Result.Err so callers can feed them back into the model conversation as
// spec.md §6.3 requires.
func (d *Dispatcher) Invoke(ctx context.Context, toolName string, params map[string]any) Result {
	d.mu.RLock()
	handler, ok := d.handlers[toolName]
	d.mu.RUnlock()

	if !ok {
		return Result{Err: &Error{Kind: ErrorKindNotFound, Message: fmt.Sprintf("no tool registered as %q", toolName)}}
	}

	value, err := handler(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Err: &Error{Kind: ErrorKindTimeout, Message: err.Error()}}
		}
		if te, ok := err.(*Error); ok {
			return Result{Err: te}
		}
		return Result{Err: &Error{Kind: ErrorKindExecution, Message: err.Error()}}
	}
	return Result{OK: true, Value: value}
}
