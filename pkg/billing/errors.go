package billing

import (
	"errors"
	"fmt"
)

// ErrUnhandledEventType is returned for recognized but intentionally ignored
// provider event types. The webhook surface answers 200 so the provider stops
// redelivering.
var ErrUnhandledEventType = errors.New("unhandled event type")

// InvalidPayloadError indicates a payload that failed signature verification
// or is missing required fields. Rejected with 400; never retried.
type InvalidPayloadError struct {
	Provider Provider
	Reason   string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Provider, e.Reason)
}

// Is supports errors.Is against a bare *InvalidPayloadError target
func (e *InvalidPayloadError) Is(target error) bool {
	_, ok := target.(*InvalidPayloadError)
	return ok
}

// NewInvalidPayloadError creates an InvalidPayloadError
func NewInvalidPayloadError(provider Provider, format string, args ...interface{}) *InvalidPayloadError {
	return &InvalidPayloadError{Provider: provider, Reason: fmt.Sprintf(format, args...)}
}

// SubscriptionConflictError indicates the user already has a blocking
// subscription. Business-rule rejection, surfaced as 409.
type SubscriptionConflictError struct {
	UserID       string
	ExistingPlan string
}

func (e *SubscriptionConflictError) Error() string {
	return fmt.Sprintf("user %s already has a blocking subscription (plan %s)", e.UserID, e.ExistingPlan)
}

// Is supports errors.Is against a bare *SubscriptionConflictError target
func (e *SubscriptionConflictError) Is(target error) bool {
	_, ok := target.(*SubscriptionConflictError)
	return ok
}

// ConflictError indicates a ledger invariant violation (balance would go
// negative, or a concurrent duplicate apply). Surfaced as 409.
type ConflictError struct {
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ledger conflict: %s", e.Reason)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Is supports errors.Is against a bare *ConflictError target
func (e *ConflictError) Is(target error) bool {
	_, ok := target.(*ConflictError)
	return ok
}

// StorageError indicates a transient storage failure. Surfaced as 500 so the
// provider retries the delivery; safe because of the idempotency key.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is supports errors.Is against a bare *StorageError target
func (e *StorageError) Is(target error) bool {
	_, ok := target.(*StorageError)
	return ok
}

// RejectCode maps a business rejection to the machine-readable code stored on
// the billing event row and returned to the caller.
func RejectCode(err error) string {
	switch {
	case errors.Is(err, &SubscriptionConflictError{}):
		return "subscription_conflict"
	case errors.Is(err, &ConflictError{}):
		return "ledger_conflict"
	case errors.Is(err, &InvalidPayloadError{}):
		return "invalid_payload"
	default:
		return "rejected"
	}
}

// IsRejection reports whether err is a rejection that should be committed on
// the event row so provider redeliveries replay it rather than re-run effects.
func IsRejection(err error) bool {
	return errors.Is(err, &SubscriptionConflictError{}) ||
		errors.Is(err, &ConflictError{}) ||
		errors.Is(err, &InvalidPayloadError{})
}
