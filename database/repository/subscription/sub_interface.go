package subRepo

import (
	"context"
	"errors"
	"time"

	"paylane/models"
)

var (
	// ErrNotFound is returned when no subscription matches the given id.
	ErrNotFound = errors.New("subscription not found")
	// ErrStaleVersion is returned when a compare-and-set update lost
	// against a concurrent writer.
	ErrStaleVersion = errors.New("subscription version is stale")
)

// SubscriptionRepository defines methods for subscription record access.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id string) (*models.Subscription, error)
	// UpdateStatus moves the subscription status with an optimistic
	// concurrency check on the version counter.
	UpdateStatus(ctx context.Context, id string, expectVersion int64, status models.SubscriptionStatus) error
	// FindTrialingEnded returns trialing subscriptions whose trial end is at
	// or before the given instant.
	FindTrialingEnded(ctx context.Context, at time.Time, limit int64) ([]models.Subscription, error)
	// FindPastDue returns past_due subscriptions whose trial end is at or
	// before the given instant.
	FindPastDue(ctx context.Context, at time.Time, limit int64) ([]models.Subscription, error)
}
