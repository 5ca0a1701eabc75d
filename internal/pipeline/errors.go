// Package pipeline implements the correction pipeline: the orchestrator
// that folds one participant's GPS batch through the Kalman filter, the map
// matcher, the checkpoint detector, and the leaderboard, persisting the
// results via internal/store.
package pipeline

import "fmt"

// Kind is the error taxonomy: not a type hierarchy, just the four buckets a
// caller needs to tell apart when deciding how to respond.
type Kind string

const (
	// KindInvalidInput covers validation failures raised before any state
	// is mutated: an empty GPS batch, an out-of-range coordinate.
	KindInvalidInput Kind = "invalid_input"
	// KindNotFound names a missing route. Correct has no strict-matching
	// option: a missing route is always downgraded to unmatched mode, so
	// Correct does not return this kind.
	KindNotFound Kind = "not_found"
	// KindTransient covers external store timeouts or failures. The
	// pipeline logs these and continues; they are not normally returned
	// to callers, only used internally to decide whether to degrade.
	KindTransient Kind = "transient"
	// KindInternal covers programming errors and unexpected failures.
	KindInternal Kind = "internal"
)

// Error is the pipeline's typed error, carrying a Kind so callers (the API
// layer) can map it to the right HTTP status without string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("pipeline: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}
