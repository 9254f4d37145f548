package txnRepo

import (
	"context"
	"errors"
	"time"

	"paylane/models"
)

var (
	// ErrNotFound is returned when no transaction matches the lookup.
	ErrNotFound = errors.New("transaction not found")
	// ErrAlreadyTerminal is returned when a status move targets a
	// transaction that has already reached a terminal status.
	ErrAlreadyTerminal = errors.New("transaction already terminal")
)

// TransactionRepository defines methods for payment-transaction access.
// Transactions are immutable once verified or failed.
type TransactionRepository interface {
	Create(ctx context.Context, txn *models.PaymentTransaction) error
	GetByID(ctx context.Context, id string) (*models.PaymentTransaction, error)
	GetByProcessorRef(ctx context.Context, ref string) (*models.PaymentTransaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.PaymentTransaction, error)
	// SetProcessorRef records the processor's transaction reference and the
	// client continuation token after a charge has been accepted.
	SetProcessorRef(ctx context.Context, id, ref, clientActionToken string) error
	// MarkVerified moves initiated -> verified. Returns ErrAlreadyTerminal
	// when the transaction already left the initiated status, which callers
	// treat as a duplicate apply.
	MarkVerified(ctx context.Context, id string) error
	// MarkFailed moves initiated -> failed with a stable failure code.
	MarkFailed(ctx context.Context, id, failureCode string) error
	// SumVerifiedByOwner totals verified charge amounts for an owning entity.
	SumVerifiedByOwner(ctx context.Context, ownerID string) (int64, error)
	// ListVerifiedByOwner returns the verified charges for an owning entity.
	ListVerifiedByOwner(ctx context.Context, ownerID string) ([]models.PaymentTransaction, error)
	// HasVerifiedStage reports whether a verified transaction exists for the
	// owner at the given stage.
	HasVerifiedStage(ctx context.Context, ownerID string, stage models.ChargeStage) (bool, error)
	// FindStale returns initiated transactions whose last update is older
	// than the cutoff, for the reconciliation sweep.
	FindStale(ctx context.Context, cutoff time.Time, limit int64) ([]models.PaymentTransaction, error)
}
