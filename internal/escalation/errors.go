package escalation

import "errors"

var (
	// ErrEventNotFound indicates no event exists with the requested id.
	ErrEventNotFound = errors.New("escalation: event not found")
	// ErrInvalidTransition indicates the target is not reachable from the current status.
	ErrInvalidTransition = errors.New("escalation: invalid transition")
	// ErrConflict indicates the event changed since the caller read it.
	ErrConflict = errors.New("escalation: conflicting update")
	// ErrPreconditionRequired indicates a transition arrived without the
	// version the caller read.
	ErrPreconditionRequired = errors.New("escalation: expected version required")
	// ErrDuplicateEvent indicates an event already exists for the detection.
	ErrDuplicateEvent = errors.New("escalation: duplicate event")
	// ErrNotActionable indicates the assessment is below the action threshold.
	ErrNotActionable = errors.New("escalation: assessment below action threshold")
	ErrInvalidNotes  = errors.New("escalation: invalid notes")
	ErrMissingActor  = errors.New("escalation: actor required")
	// ErrPersistenceFailed indicates the store could not durably record the change.
	ErrPersistenceFailed = errors.New("escalation: persistence failed")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable anywhere in its chain.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
