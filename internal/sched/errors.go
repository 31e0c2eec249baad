package sched

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by a handler whose precondition is not met yet
// (ticket still active, result value not published). The scanner leaves the
// phase unset and silently re-evaluates on the next tick.
var ErrNotReady = errors.New("not ready")

// ErrTargetGone signals a permanently missing target (deleted channel,
// removed message). The phase is marked fired-without-effect.
var ErrTargetGone = errors.New("target gone")

// ErrNotFound is returned by operator operations for an unknown item.
var ErrNotFound = errors.New("item not found")

// errInFlight guards against concurrent execution of the same (item, phase)
// pair; the losing tick skips the pair without logging an error.
var errInFlight = errors.New("phase already in flight")

// ValidationError rejects a creation request synchronously. Nothing is
// persisted for a request that fails validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a creation-time validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError marks a delivery failure worth retrying on a later tick
// (rate limit, temporary permission issue). The phase stays unset.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StoreError wraps a failure of the persistent store. A store failure
// during a scan aborts the whole tick; the next interval retries.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store " + e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }
