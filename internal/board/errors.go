package board

import "errors"

// Sentinel errors surfaced by Board mutations, per spec.md §7's validation-error
// taxonomy: these fail locally, are not retried, and are reported to the
// caller as structured errors rather than propagated as generic failures.
var (
	ErrNotFound          = errors.New("board: task not found")
	ErrCyclicDependency  = errors.New("board: blocked_by introduces a cycle")
	ErrInvalidTransition = errors.New("board: invalid state transition")
	ErrRoleMismatch      = errors.New("board: agent does not satisfy required_role")
	ErrBlocked           = errors.New("board: task has incomplete blockers")
	ErrReputationTooLow  = errors.New("board: agent reputation below min_reputation")
	ErrRestricted        = errors.New("board: agent is restricted to review/critique tasks")
	ErrNotOwner          = errors.New("board: caller does not own this task")
	ErrTerminal          = errors.New("board: task is in a terminal status")
)
