package txnRepo

import (
	"context"
	"fmt"
	"time"

	"paylane/database"
	"paylane/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTransactionRepo implements TransactionRepository using MongoDB.
type MongoTransactionRepo struct {
	coll *mongo.Collection
}

// NewMongoTransactionRepo creates a new instance of TransactionRepository using MongoDB.
func NewMongoTransactionRepo() TransactionRepository {
	coll := database.MongoClient.Database(database.DatabaseName).Collection("transactions")
	return &MongoTransactionRepo{coll: coll}
}

func (r *MongoTransactionRepo) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	now := time.Now()
	txn.CreatedAt = now
	txn.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, txn); err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *MongoTransactionRepo) GetByID(ctx context.Context, id string) (*models.PaymentTransaction, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *MongoTransactionRepo) GetByProcessorRef(ctx context.Context, ref string) (*models.PaymentTransaction, error) {
	return r.findOne(ctx, bson.M{"processor_ref": ref})
}

func (r *MongoTransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	return r.findOne(ctx, bson.M{"idempotency_key": key})
}

func (r *MongoTransactionRepo) findOne(ctx context.Context, filter bson.M) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.coll.FindOne(ctx, filter).Decode(&txn)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	return &txn, nil
}

func (r *MongoTransactionRepo) SetProcessorRef(ctx context.Context, id, ref, clientActionToken string) error {
	update := bson.M{"$set": bson.M{
		"processor_ref":       ref,
		"client_action_token": clientActionToken,
		"updated_at":          time.Now(),
	}}
	result, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to set processor ref on %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkVerified uses a status precondition so that two concurrent handlers
// verifying the same transaction cannot both succeed.
func (r *MongoTransactionRepo) MarkVerified(ctx context.Context, id string) error {
	return r.transition(ctx, id, models.TxnVerified, bson.M{})
}

func (r *MongoTransactionRepo) MarkFailed(ctx context.Context, id, failureCode string) error {
	return r.transition(ctx, id, models.TxnFailed, bson.M{"failure_code": failureCode})
}

func (r *MongoTransactionRepo) transition(ctx context.Context, id, to string, extra bson.M) error {
	set := bson.M{"status": to, "updated_at": time.Now()}
	for k, v := range extra {
		set[k] = v
	}

	filter := bson.M{"id": id, "status": models.TxnInitiated}
	result, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to transition transaction %s to %s: %w", id, to, err)
	}
	if result.MatchedCount == 0 {
		// Either missing or already terminal; disambiguate for the caller.
		if _, ferr := r.GetByID(ctx, id); ferr != nil {
			return ferr
		}
		return ErrAlreadyTerminal
	}
	return nil
}

func (r *MongoTransactionRepo) SumVerifiedByOwner(ctx context.Context, ownerID string) (int64, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"owner_id": ownerID, "status": models.TxnVerified}}},
		bson.D{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$amount"}}}},
	}
	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to sum verified transactions for %s: %w", ownerID, err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("failed to decode transaction sum: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

func (r *MongoTransactionRepo) ListVerifiedByOwner(ctx context.Context, ownerID string) ([]models.PaymentTransaction, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"owner_id": ownerID, "status": models.TxnVerified})
	if err != nil {
		return nil, fmt.Errorf("failed to list verified transactions for %s: %w", ownerID, err)
	}
	defer cursor.Close(ctx)

	var txns []models.PaymentTransaction
	if err := cursor.All(ctx, &txns); err != nil {
		return nil, fmt.Errorf("failed to decode verified transactions: %w", err)
	}
	return txns, nil
}

func (r *MongoTransactionRepo) HasVerifiedStage(ctx context.Context, ownerID string, stage models.ChargeStage) (bool, error) {
	count, err := r.coll.CountDocuments(ctx, bson.M{
		"owner_id": ownerID,
		"stage":    stage,
		"status":   models.TxnVerified,
	})
	if err != nil {
		return false, fmt.Errorf("failed to count verified transactions: %w", err)
	}
	return count > 0, nil
}

func (r *MongoTransactionRepo) FindStale(ctx context.Context, cutoff time.Time, limit int64) ([]models.PaymentTransaction, error) {
	filter := bson.M{
		"status":        models.TxnInitiated,
		"updated_at":    bson.M{"$lt": cutoff},
		"processor_ref": bson.M{"$ne": ""},
	}
	opts := options.Find().SetLimit(limit).SetSort(bson.M{"updated_at": 1})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var txns []models.PaymentTransaction
	if err := cursor.All(ctx, &txns); err != nil {
		return nil, fmt.Errorf("failed to decode stale transactions: %w", err)
	}
	return txns, nil
}
