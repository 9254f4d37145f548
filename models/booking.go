package models

import "time"

// PaymentStatus is the booking-side payment lifecycle state.
type PaymentStatus string

const (
	PaymentAwaitingDeposit   PaymentStatus = "AWAITING_DEPOSIT"
	PaymentDepositPaid       PaymentStatus = "DEPOSIT_PAID"
	PaymentFullyPaid         PaymentStatus = "FULLY_PAID"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// Booking represents a scheduled service purchase as seen by the payment
// engine. Amounts are in minor units (cents). Currency is fixed at creation.
// Bookings are retained for audit and never deleted.
type Booking struct {
	ID             string        `bson:"id" json:"id"`
	CustomerRef    string        `bson:"customer_ref" json:"customer_ref"`
	Region         string        `bson:"region" json:"region"`
	Currency       string        `bson:"currency" json:"currency"`
	DepositAmount  int64         `bson:"deposit_amount" json:"deposit_amount"`
	TotalAmount    int64         `bson:"total_amount" json:"total_amount"`
	Processor      string        `bson:"processor" json:"processor"` // resolved from region at creation, never recomputed
	PaymentStatus  PaymentStatus `bson:"payment_status" json:"payment_status"`
	RefundedAmount int64         `bson:"refunded_amount" json:"refunded_amount"`
	Version        int64         `bson:"version" json:"-"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `bson:"updated_at" json:"updated_at"`
}

// RemainingBalance is the amount still owed after the deposit stage.
func (b *Booking) RemainingBalance() int64 {
	return b.TotalAmount - b.DepositAmount
}
