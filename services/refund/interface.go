package refund

import (
	"context"

	"paylane/models"
)

// Request asks for funds back on a booking. Amount is minor units; the
// idempotency key makes the request single-use.
type Request struct {
	BookingID      string `json:"booking_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

// Service owns refund record lifecycles.
type Service interface {
	// RequestRefund validates the request against the captured amount,
	// decomposes it across the booking's captured charges, and initiates
	// each part with the processor.
	RequestRefund(ctx context.Context, req Request) ([]models.Refund, error)
	GetRefund(ctx context.Context, id string) (*models.Refund, error)
	ListByBooking(ctx context.Context, bookingID string) ([]models.Refund, error)
	// ApplyRefundEvent feeds a normalized refund event to the record's
	// state machine. Duplicate applies are no-ops.
	ApplyRefundEvent(ctx context.Context, ev models.NormalizedEvent) error
	// RetryPending re-drives the processor call for a refund whose earlier
	// initiation never got an answer. Used by the reconciliation sweep.
	RetryPending(ctx context.Context, refundID string) error
}
