// Package store owns durable order records. All status mutation goes through
// UpdateStatus, a conditional write keyed on the expected current status, so
// concurrent monitor ticks and cancellation requests can never both move the
// same order out of pending.
package store

import (
	"context"
	"errors"
	"time"

	"paper-trader/internal/models"
)

var (
	// ErrNotFound is returned when no order exists for the given id.
	ErrNotFound = errors.New("order not found")
	// ErrConflict is returned when a conditional status update observes a
	// different status than expected; another actor won the transition.
	ErrConflict = errors.New("order status changed concurrently")
)

// StatusUpdate carries the optional fields written alongside a status
// transition. Nil fields are left untouched.
type StatusUpdate struct {
	TriggeredAt       *time.Time
	ExecutedAt        *time.Time
	ExecutionPrice    *float64
	ExecutionQuantity *int
	Commission        *float64
	CancelReason      *string
}

// Store is the persistence contract for orders. Implementations must make
// UpdateStatus atomic with respect to the expected-status check, and must
// return status scans sorted ascending by order id so monitor ticks process
// orders in creation order.
type Store interface {
	Insert(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)

	// UpdateStatus moves an order from expected to next, applying upd, and
	// returns the updated order. ErrConflict if the order is not currently in
	// the expected status, ErrNotFound if it does not exist.
	UpdateStatus(ctx context.Context, id string, expected, next models.OrderStatus, upd StatusUpdate) (*models.Order, error)

	FindByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
	FindByPortfolio(ctx context.Context, portfolioID string, status models.OrderStatus) ([]models.Order, error)
	FindChildren(ctx context.Context, parentID string) ([]models.Order, error)

	// FindExpired returns pending good-til-date orders whose deadline is at or
	// before now.
	FindExpired(ctx context.Context, now time.Time) ([]models.Order, error)
	// FindStaleTriggered returns triggered orders claimed at or before cutoff.
	FindStaleTriggered(ctx context.Context, cutoff time.Time) ([]models.Order, error)

	// ActivateChildren marks the pending children of parentID monitorable.
	ActivateChildren(ctx context.Context, parentID string) error
	// SetArmed records that a pending stop-limit order's stop condition fired.
	SetArmed(ctx context.Context, id string) error
}

// Pointer helpers for building StatusUpdate values.
func TimePtr(t time.Time) *time.Time { return &t }
func Float64Ptr(v float64) *float64  { return &v }
func IntPtr(v int) *int              { return &v }
func StringPtr(s string) *string     { return &s }
