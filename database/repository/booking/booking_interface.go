package bookingRepo

import (
	"context"
	"errors"

	"paylane/models"
)

// ErrNotFound is returned when no booking matches the given id.
var ErrNotFound = errors.New("booking not found")

// ErrStaleVersion is returned when a compare-and-set update lost against a
// concurrent writer. Callers retry the read-modify-write once, then surface
// a conflict.
var ErrStaleVersion = errors.New("booking version is stale")

// BookingRepository defines methods for booking payment-record access.
type BookingRepository interface {
	// Create inserts a new booking record.
	Create(ctx context.Context, booking *models.Booking) error
	// GetByID retrieves a booking by its unique ID.
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	// UpdatePaymentState moves the booking's payment status with an
	// optimistic-concurrency check on the version counter.
	UpdatePaymentState(ctx context.Context, id string, expectVersion int64, status models.PaymentStatus, refundedAmount int64) error
}
