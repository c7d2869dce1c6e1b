// Package board implements the Task Board (spec.md §4.1): a durable,
// crash-safe state machine over tasks with dependencies, roles, claims,
// timeouts, and bounded rework. All mutations are atomic per spec.md §4.1:
// take an exclusive lock, re-read the whole document, validate, write,
// release.
package board

import (
	"time"

	"github.com/loomwork/loom/internal/critique"
	"github.com/loomwork/loom/internal/subtask"
)

// Status is a Task's position in the state machine of spec.md §4.1.
type Status string

const (
	Pending      Status = "pending"
	Claimed      Status = "claimed"
	Review       Status = "review"
	CritiqueStat Status = "critique"
	Synthesizing Status = "synthesizing"
	Completed    Status = "completed"
	Failed       Status = "failed"
	Cancelled    Status = "cancelled"
	Paused       Status = "paused"
)

// IsTerminal reports whether a status never transitions further, per
// spec.md §3.1's terminal-immutability invariant.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// hasOwner reports whether a status implies a non-nil agent_id, per the
// single-owner invariant of spec.md §3.1 and §8.
func (s Status) hasOwner() bool {
	switch s {
	case Claimed, Review, CritiqueStat, Synthesizing:
		return true
	default:
		return false
	}
}

// Provenance records where a task's originating request came from.
type Provenance struct {
	Channel      string `json:"channel,omitempty"`
	ChatID       string `json:"chat_id,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	OriginalText string `json:"original_text,omitempty"`
}

// Task is one unit of work tracked by the board. See spec.md §3.1.
type Task struct {
	ID             string            `json:"id"`
	Description    string            `json:"description"`
	Status         Status            `json:"status"`
	RequiredRole   string            `json:"required_role,omitempty"`
	AgentID        string            `json:"agent_id,omitempty"`
	ParentID       string            `json:"parent_id,omitempty"`
	BlockedBy      []string          `json:"blocked_by,omitempty"`
	MinReputation  int               `json:"min_reputation"`
	Complexity     subtask.Complexity `json:"complexity,omitempty"`
	Result         string            `json:"result,omitempty"`
	Critique       *critique.Spec    `json:"critique,omitempty"`
	CritiqueRound  int               `json:"critique_round"`
	EvolutionFlags []string          `json:"evolution_flags,omitempty"`
	CreatedAt      float64           `json:"created_at"`
	ClaimedAt      float64           `json:"claimed_at,omitempty"`
	CompletedAt    float64           `json:"completed_at,omitempty"`
	Source         Provenance        `json:"source"`

	// Seq is the insertion sequence, used to break ties FIFO on claim
	// selection since map iteration order is not stable in Go the way dict
	// order is in Python 3.7+. Must be persisted: mutate/readDoc re-read the
	// whole document from disk on every call, so an unexported field here
	// would silently reset to its zero value on the very next reload.
	Seq int64 `json:"seq"`
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// CreateOptions configures Create.
type CreateOptions struct {
	Description   string
	RequiredRole  string
	ParentID      string
	BlockedBy     []string
	MinReputation int
	Complexity    subtask.Complexity
	Source        Provenance
}

// document is the on-disk shape of the whole board: tasks plus a
// monotonically increasing sequence counter used for FIFO claim ordering.
type document struct {
	Tasks   map[string]*Task `json:"tasks"`
	NextSeq int64            `json:"next_seq"`
}
