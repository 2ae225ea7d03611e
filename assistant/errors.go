package assistant

import (
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors rejected locally, before any network call.
var (
	// ErrInvalidThreadID is returned for thread ids that do not match
	// the platform's id shape. Malformed ids fail fast instead of
	// being sent upstream.
	ErrInvalidThreadID = errors.New("invalid thread id")

	// ErrActiveRunConflict is returned when a turn is attempted while
	// another run is still in progress for the same caller. The caller
	// should start a new chat rather than race the active run.
	ErrActiveRunConflict = errors.New("a run is already in progress, start a new chat to continue")

	// ErrEmptyMessage is returned when the user text of a turn is empty.
	ErrEmptyMessage = errors.New("message must not be empty")
)

// RunFailedError reports a run that reached a terminal non-success status.
// It is never retried automatically.
type RunFailedError struct {
	Status string
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run ended with status %q", e.Status)
}

// UnexpectedEventError reports a malformed or out-of-contract streaming
// event. The underlying detail is logged, not surfaced to the UI.
type UnexpectedEventError struct {
	EventType string
	Reason    string
}

func (e *UnexpectedEventError) Error() string {
	return fmt.Sprintf("unexpected stream event %q: %s", e.EventType, e.Reason)
}

var threadIDPattern = regexp.MustCompile(`^thread_[A-Za-z0-9]+$`)

// ValidThreadID reports whether id has the platform thread id shape.
// An empty id is not valid; absence is expressed by not passing one.
func ValidThreadID(id string) bool {
	return threadIDPattern.MatchString(id)
}

// CheckThreadID validates a caller-supplied thread id. Empty means
// "no thread yet" and passes; anything else must match the id shape.
func CheckThreadID(id string) error {
	if id == "" {
		return nil
	}
	if !ValidThreadID(id) {
		return ErrInvalidThreadID
	}
	return nil
}
