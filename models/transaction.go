package models

import "time"

// ChargeStage identifies which part of a booking's price a transaction covers.
type ChargeStage string

const (
	StageDeposit      ChargeStage = "deposit"
	StageBalance      ChargeStage = "balance"
	StageSubscription ChargeStage = "subscription"
)

// OwnerType tells which entity a transaction belongs to.
type OwnerType string

const (
	OwnerBooking      OwnerType = "booking"
	OwnerSubscription OwnerType = "subscription"
)

// Transaction status values. A transaction is never mutated after reaching
// a terminal status.
const (
	TxnInitiated = "initiated"
	TxnVerified  = "verified"
	TxnFailed    = "failed"
)

// PaymentTransaction is one processor-side charge attempt tied to a booking
// or subscription.
type PaymentTransaction struct {
	ID             string      `bson:"id" json:"id"`
	OwnerType      OwnerType   `bson:"owner_type" json:"owner_type"`
	OwnerID        string      `bson:"owner_id" json:"owner_id"`
	Stage          ChargeStage `bson:"stage" json:"stage"`
	Processor      string      `bson:"processor" json:"processor"`
	ProcessorRef   string      `bson:"processor_ref" json:"processor_ref"`
	Amount         int64       `bson:"amount" json:"amount"`
	Currency       string      `bson:"currency" json:"currency"`
	Status         string      `bson:"status" json:"status"`
	// ClientActionToken is the continuation handed back to the client
	// (client secret or hosted-checkout URL); persisted so a replayed
	// initiation returns the same token.
	ClientActionToken string `bson:"client_action_token,omitempty" json:"client_action_token,omitempty"`
	IdempotencyKey    string    `bson:"idempotency_key" json:"-"`
	FailureCode       string    `bson:"failure_code,omitempty" json:"failure_code,omitempty"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
}
