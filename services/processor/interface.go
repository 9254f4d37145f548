package processor

import (
	"context"
	"net/http"

	"paylane/models"
)

// ChargeRequest initiates a charge against a customer. IdempotencyKey is
// mandatory: a lost response never means the charge did not happen, so the
// only safe retry is one the processor can deduplicate.
type ChargeRequest struct {
	Amount         int64
	Currency       string
	CustomerRef    string
	IdempotencyKey string
}

// ChargeResult is the processor's answer to a charge initiation.
// ClientActionToken is the continuation handed to the client (a Stripe
// client secret, a hosted-checkout URL, a mobile-money prompt reference).
type ChargeResult struct {
	TransactionRef    string
	ClientActionToken string
}

// VerifyResult is an idempotent read of a transaction's processor-side state.
type VerifyResult struct {
	Status   string // "succeeded", "failed" or "pending"
	Amount   int64
	Currency string
}

// RefundRequest asks the processor to return captured funds.
type RefundRequest struct {
	TransactionRef string
	Amount         int64
	IdempotencyKey string
}

// RefundResult is the processor's answer to a refund initiation.
type RefundResult struct {
	RefundRef string
}

const (
	VerifySucceeded = "succeeded"
	VerifyFailed    = "failed"
	VerifyPending   = "pending"
)

// Processor is the capability set every payment processor adapter exposes.
// Implementations normalize processor-specific calls, responses and webhook
// payloads; nothing downstream depends on a concrete processor type.
type Processor interface {
	// Name identifies the adapter. It is stored on each entity at creation
	// so later operations never re-derive the processor from region.
	Name() string
	InitiateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	// VerifyTransaction is safe to call repeatedly; used by the confirm
	// path and the reconciliation sweep.
	VerifyTransaction(ctx context.Context, transactionRef string) (*VerifyResult, error)
	// VerifyRefund is the refund-side equivalent of VerifyTransaction.
	VerifyRefund(ctx context.Context, refundRef string) (*VerifyResult, error)
	InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	// VerifyWebhookAuthenticity checks the transport-level signature or
	// source-IP allow-list. A false return must cause no side effect.
	VerifyWebhookAuthenticity(payload []byte, headers http.Header, sourceIP string) bool
	// ParseWebhookEvent maps the processor's native payload onto the shared
	// event vocabulary. Events outside the vocabulary return ErrIgnoredEvent.
	ParseWebhookEvent(payload []byte) (*models.NormalizedEvent, error)
}
