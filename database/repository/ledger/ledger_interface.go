package ledgerRepo

import (
	"context"
	"errors"
	"time"

	"paylane/models"
)

var (
	// ErrDuplicateKey is returned when a reservation lost to an earlier (or
	// concurrent) observation of the same key. The caller treats the
	// operation as a duplicate and returns the recorded outcome.
	ErrDuplicateKey = errors.New("idempotency key already recorded")
	// ErrNotFound is returned when no record exists for the given key.
	ErrNotFound = errors.New("idempotency record not found")
)

// LedgerRepository is the idempotency ledger. Reserve is the single
// synchronization primitive the engine relies on across components; it must
// be an atomic insert-if-absent at the storage layer.
type LedgerRepository interface {
	// Reserve atomically claims a key. Exactly one caller per key ever
	// succeeds; all others get ErrDuplicateKey.
	Reserve(ctx context.Context, key string) error
	// Get returns the record for a key.
	Get(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	// SetOutcome fills in the outcome snapshot for a reserved key. The
	// outcome is written once and never overwritten.
	SetOutcome(ctx context.Context, key, outcome string) error
	// Release frees a reservation whose dispatch failed transiently, so a
	// legitimate retry can claim it again.
	Release(ctx context.Context, key string) error
	// Prune removes records older than the retention cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
