package models

import (
	"errors"
	"fmt"
)

// Sentinel errors mapped to HTTP codes in the delivery layer.
var (
	ErrNotFound           = errors.New("not found")
	ErrGracePeriodExpired = errors.New("resubmission grace period expired")
	ErrPeriodNotActive    = errors.New("evaluation period is not active")
	ErrDuplicatePeriod    = errors.New("a non-cancelled period already exists for this term and assessment period")
)

// ValidationError rejects malformed input before any state change.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// TransientError wraps a collaborator timeout or transport failure that is
// retryable at the per-item level.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// ConsistencyViolation signals corrupted state (two final snapshots, a cyclic
// resubmission chain). It is never silently corrected: processing halts for
// the entity and the error is surfaced as an alert.
type ConsistencyViolation struct {
	Entity string
	ID     string
	Detail string
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("consistency violation on %s %s: %s", e.Entity, e.ID, e.Detail)
}

func Consistencyf(entity, id, format string, args ...interface{}) error {
	return &ConsistencyViolation{Entity: entity, ID: id, Detail: fmt.Sprintf(format, args...)}
}

func IsConsistencyViolation(err error) bool {
	var c *ConsistencyViolation
	return errors.As(err, &c)
}

// InvalidTransition reports a state machine transition not enumerated for
// the entity's current status.
type InvalidTransition struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}
