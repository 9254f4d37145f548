package payment

import (
	"context"

	"paylane/models"
)

// RegisterBookingRequest is what booking collaborators hand the engine when
// a checkout completes. Amounts are minor units.
type RegisterBookingRequest struct {
	BookingID     string `json:"booking_id" binding:"required"`
	CustomerRef   string `json:"customer_ref" binding:"required"`
	Region        string `json:"region" binding:"required"`
	Currency      string `json:"currency" binding:"required"`
	DepositAmount int64  `json:"deposit_amount"`
	TotalAmount   int64  `json:"total_amount" binding:"required"`
}

// InitiateChargeRequest starts a charge for one payment stage of a booking.
// The idempotency key is client-generated; replaying it never creates a
// second transaction.
type InitiateChargeRequest struct {
	BookingID      string             `json:"booking_id" binding:"required"`
	Stage          models.ChargeStage `json:"stage" binding:"required"`
	IdempotencyKey string             `json:"idempotency_key" binding:"required"`
}

// ChargeInitiation is the synchronous answer to an initiate call: either an
// immediate decision or a client-facing continuation token.
type ChargeInitiation struct {
	TransactionID     string `json:"transaction_id"`
	Processor         string `json:"processor"`
	ProcessorRef      string `json:"processor_ref"`
	ClientActionToken string `json:"client_action_token"`
}

// Service drives a booking's payment lifecycle.
type Service interface {
	RegisterBooking(ctx context.Context, req RegisterBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	InitiateCharge(ctx context.Context, req InitiateChargeRequest) (*ChargeInitiation, error)
	// ConfirmCharge is the client-driven verification path: it re-reads the
	// transaction from the processor and applies the outcome.
	ConfirmCharge(ctx context.Context, transactionID string) (*models.Booking, error)
	// ApplyChargeEvent feeds a normalized charge event for a booking-owned
	// transaction through the state machine. Duplicate applies are no-ops.
	ApplyChargeEvent(ctx context.Context, txn *models.PaymentTransaction, ev models.NormalizedEvent) error
	// ApplyRefundOutcome recomputes the booking's cumulative refunded
	// amount and moves its payment status accordingly.
	ApplyRefundOutcome(ctx context.Context, bookingID string) error
}
