package orders

import (
	"fmt"

	"paper-trader/internal/models"
)

// ValidationError rejects a malformed create request. Nothing is persisted
// when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidStateError signals an operation that is not legal from the order's
// current status, e.g. cancelling an executed order.
type InvalidStateError struct {
	OrderID string
	Status  models.OrderStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order %s is already %s", e.OrderID, e.Status)
}

// ExecutionError wraps a ledger rejection. For triggered orders the rejection
// is also recorded on the order itself; these are never retried.
type ExecutionError struct {
	OrderID string
	Cause   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %v", e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }
