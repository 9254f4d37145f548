package refundRepo

import (
	"context"
	"errors"
	"time"

	"paylane/models"
)

var (
	// ErrNotFound is returned when no refund matches the lookup.
	ErrNotFound = errors.New("refund not found")
	// ErrAlreadyTerminal is returned when a status move targets a refund
	// that has already reached SUCCEEDED or FAILED.
	ErrAlreadyTerminal = errors.New("refund already terminal")
)

// RefundRepository defines methods for refund record access. Terminal
// records are immutable; a failed refund retains its failure reason.
type RefundRepository interface {
	Create(ctx context.Context, refund *models.Refund) error
	GetByID(ctx context.Context, id string) (*models.Refund, error)
	GetByProcessorRef(ctx context.Context, ref string) (*models.Refund, error)
	ListByBooking(ctx context.Context, bookingID string) ([]models.Refund, error)
	// ListByRequestKey returns the records created for one client request.
	ListByRequestKey(ctx context.Context, key string) ([]models.Refund, error)
	// MarkProcessing moves PENDING -> PROCESSING once the processor accepts
	// the refund request, recording the processor's refund reference.
	MarkProcessing(ctx context.Context, id, processorRef string) error
	// MarkSucceeded moves PENDING or PROCESSING -> SUCCEEDED.
	MarkSucceeded(ctx context.Context, id string) error
	// MarkFailed moves PENDING or PROCESSING -> FAILED with a reason.
	MarkFailed(ctx context.Context, id, failureReason string) error
	// SumSucceededByBooking totals succeeded refund amounts for a booking.
	SumSucceededByBooking(ctx context.Context, bookingID string) (int64, error)
	// SumOpenByBooking totals refunds still pending or processing, so a new
	// request cannot oversubscribe the captured amount while another refund
	// is in flight.
	SumOpenByBooking(ctx context.Context, bookingID string) (int64, error)
	// SumActiveByTransaction totals non-failed refund amounts charged
	// against one captured transaction, for allocation.
	SumActiveByTransaction(ctx context.Context, transactionRef string) (int64, error)
	// FindStaleByStatus returns refunds in the given status whose creation
	// is older than the cutoff, for the reconciliation sweep.
	FindStaleByStatus(ctx context.Context, status models.RefundStatus, cutoff time.Time, limit int64) ([]models.Refund, error)
}
