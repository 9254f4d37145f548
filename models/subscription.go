package models

import "time"

// SubscriptionStatus values. A subscription may only be "trialing" when its
// plan's trial policy enabled it at onboarding.
type SubscriptionStatus string

const (
	SubTrialing SubscriptionStatus = "trialing"
	SubActive   SubscriptionStatus = "active"
	SubPastDue  SubscriptionStatus = "past_due"
	SubCanceled SubscriptionStatus = "canceled"
)

// Subscription is a provider's plan instance.
type Subscription struct {
	ID                string             `bson:"id" json:"id"`
	CustomerRef       string             `bson:"customer_ref" json:"customer_ref"`
	Tier              string             `bson:"tier" json:"tier"`
	Region            string             `bson:"region" json:"region"`
	Currency          string             `bson:"currency" json:"currency"`
	Amount            int64              `bson:"amount" json:"amount"` // per billing period, minor units
	Processor         string             `bson:"processor" json:"processor"`
	TrialEnabled      bool               `bson:"trial_enabled" json:"trial_enabled"`
	TrialDurationDays int                `bson:"trial_duration_days" json:"trial_duration_days"`
	TrialEnd          *time.Time         `bson:"trial_end,omitempty" json:"trial_end,omitempty"`
	Status            SubscriptionStatus `bson:"status" json:"status"`
	Version           int64              `bson:"version" json:"-"`
	CreatedAt         time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `bson:"updated_at" json:"updated_at"`
}
