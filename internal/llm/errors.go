package llm

import "errors"

// Class is the failure taxonomy of spec.md §4.9's "Failure classification"
// and §7's error taxonomy.
type Class string

const (
	ClassRetryable Class = "retryable"
	ClassFatal     Class = "fatal"
)

var (
	ErrRateLimited         = errors.New("llm: rate limited")
	ErrProviderUnavailable = errors.New("llm: provider unavailable")
	ErrAuthFailed          = errors.New("llm: authentication failed")
	ErrBudgetExceeded      = errors.New("llm: budget exceeded")
	ErrValidation          = errors.New("llm: request validation failed")
	ErrUnsupported         = errors.New("llm: capability not supported by this adapter")
)

// Classify maps a provider error to a retry/fatal decision, per spec.md
// §4.9's failure classification: network errors, 5xx, and explicit
// rate-limits are retryable; budget, auth (once credential rotation is
// exhausted), and validation errors are fatal per-call.
func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrProviderUnavailable):
		return ClassRetryable
	case errors.Is(err, ErrBudgetExceeded), errors.Is(err, ErrAuthFailed), errors.Is(err, ErrValidation):
		return ClassFatal
	default:
		return ClassRetryable
	}
}
