package ledgerRepo

import (
	"context"
	"fmt"
	"time"

	"paylane/database"
	"paylane/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoLedgerRepo implements LedgerRepository using MongoDB. The unique
// index on "key" (created at startup) is what makes Reserve atomic: the
// insert either wins or fails with a duplicate-key error, never a
// check-then-write race.
type MongoLedgerRepo struct {
	coll *mongo.Collection
}

// NewMongoLedgerRepo creates a new instance of LedgerRepository using MongoDB.
func NewMongoLedgerRepo() LedgerRepository {
	coll := database.MongoClient.Database(database.DatabaseName).Collection("ledger")
	return &MongoLedgerRepo{coll: coll}
}

func (r *MongoLedgerRepo) Reserve(ctx context.Context, key string) error {
	record := models.IdempotencyRecord{
		Key:       key,
		FirstSeen: time.Now(),
	}
	_, err := r.coll.InsertOne(ctx, record)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to reserve ledger key %s: %w", key, err)
	}
	return nil
}

func (r *MongoLedgerRepo) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord
	err := r.coll.FindOne(ctx, bson.M{"key": key}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger key %s: %w", key, err)
	}
	return &record, nil
}

func (r *MongoLedgerRepo) SetOutcome(ctx context.Context, key, outcome string) error {
	filter := bson.M{"key": key, "outcome": bson.M{"$in": bson.A{nil, ""}}}
	update := bson.M{"$set": bson.M{"outcome": outcome}}

	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to set outcome for ledger key %s: %w", key, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoLedgerRepo) Release(ctx context.Context, key string) error {
	if _, err := r.coll.DeleteOne(ctx, bson.M{"key": key}); err != nil {
		return fmt.Errorf("failed to release ledger key %s: %w", key, err)
	}
	return nil
}

func (r *MongoLedgerRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"first_seen": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to prune ledger: %w", err)
	}
	return result.DeletedCount, nil
}
