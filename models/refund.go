package models

import "time"

// RefundStatus is the refund record lifecycle state. SUCCEEDED and FAILED
// are terminal; a failed refund is retried by creating a new record.
type RefundStatus string

const (
	RefundPending    RefundStatus = "PENDING"
	RefundProcessing RefundStatus = "PROCESSING"
	RefundSucceeded  RefundStatus = "SUCCEEDED"
	RefundFailed     RefundStatus = "FAILED"
)

// Refund is a request to return funds for a booking. A request that spans
// several captured charges is decomposed into one record per charge, grouped
// by RequestKey; each record runs the lifecycle independently.
type Refund struct {
	ID        string `bson:"id" json:"id"`
	BookingID string `bson:"booking_id" json:"booking_id"`
	// RequestKey is the client idempotency key of the originating request.
	RequestKey string `bson:"request_key" json:"-"`
	// TransactionRef is the processor reference of the charge being refunded.
	TransactionRef string       `bson:"transaction_ref" json:"transaction_ref"`
	Amount         int64        `bson:"amount" json:"amount"`
	Currency       string       `bson:"currency" json:"currency"`
	Status         RefundStatus `bson:"status" json:"status"`
	Reason         string       `bson:"reason" json:"reason"`
	FailureReason  string       `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	Processor      string       `bson:"processor" json:"processor"`
	ProcessorRef   string       `bson:"processor_ref,omitempty" json:"processor_ref,omitempty"`
	Version        int64        `bson:"version" json:"-"`
	CreatedAt      time.Time    `bson:"created_at" json:"created_at"`
	ProcessedAt    *time.Time   `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	FailedAt       *time.Time   `bson:"failed_at,omitempty" json:"failed_at,omitempty"`
}
