package subscription

import (
	"context"
	"time"

	"paylane/models"
)

// OnboardRequest creates a subscription. When the resolved trial policy
// disables trials, PaymentTransactionRef must reference a charge the
// processor has verified; otherwise no payment capture happens at all.
type OnboardRequest struct {
	SubscriptionID        string `json:"subscription_id"`
	CustomerRef           string `json:"customer_ref" binding:"required"`
	Tier                  string `json:"tier" binding:"required"`
	Region                string `json:"region" binding:"required"`
	Currency              string `json:"currency" binding:"required"`
	Amount                int64  `json:"amount" binding:"required"`
	PaymentTransactionRef string `json:"payment_transaction_ref"`
}

// Service manages subscription trials and their transition to paid.
type Service interface {
	Onboard(ctx context.Context, req OnboardRequest) (*models.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	Cancel(ctx context.Context, id string) (*models.Subscription, error)
	// ApplyChargeEvent handles normalized charge events for
	// subscription-owned transactions.
	ApplyChargeEvent(ctx context.Context, txn *models.PaymentTransaction, ev models.NormalizedEvent) error
	// SweepTrials runs the scheduled trial-to-paid check: activates trials
	// with a verified charge, initiates the trial-end charge, and walks
	// unpaid subscriptions through past_due to canceled.
	SweepTrials(ctx context.Context, now time.Time) error
}
