package refundRepo

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

// MongoRefundRepo implements RefundRepository using MongoDB.
type MongoRefundRepo struct {
	coll *mongo.Collection
}

// NewMongoRefundRepo creates a new instance of RefundRepository using MongoDB.
func NewMongoRefundRepo() RefundRepository {
	coll := database.MongoClient.Database(database.DatabaseName).Collection("refunds")
	return &MongoRefundRepo{coll: coll}
}

func (r *MongoRefundRepo) Create(ctx context.Context, refund *models.Refund) error {
	refund.CreatedAt = time.Now()
	refund.Version = 1

	if _, err := r.coll.InsertOne(ctx, refund); err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

func (r *MongoRefundRepo) GetByID(ctx context.Context, id string) (*models.Refund, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *MongoRefundRepo) GetByProcessorRef(ctx context.Context, ref string) (*models.Refund, error) {
	return r.findOne(ctx, bson.M{"processor_ref": ref})
}

func (r *MongoRefundRepo) findOne(ctx context.Context, filter bson.M) (*models.Refund, error) {
	var refund models.Refund
	err := r.coll.FindOne(ctx, filter).Decode(&refund)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch refund: %w", err)
	}
	return &refund, nil
}

func (r *MongoRefundRepo) ListByBooking(ctx context.Context, bookingID string) ([]models.Refund, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"booking_id": bookingID})
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds for booking %s: %w", bookingID, err)
	}
	defer cursor.Close(ctx)

	var refunds []models.Refund
	if err := cursor.All(ctx, &refunds); err != nil {
		return nil, fmt.Errorf("failed to decode refunds: %w", err)
	}
	return refunds, nil
}

func (r *MongoRefundRepo) ListByRequestKey(ctx context.Context, key string) ([]models.Refund, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"request_key": key})
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds for request %s: %w", key, err)
	}
	defer cursor.Close(ctx)

	var refunds []models.Refund
	if err := cursor.All(ctx, &refunds); err != nil {
		return nil, fmt.Errorf("failed to decode refunds: %w", err)
	}
	return refunds, nil
}

func (r *MongoRefundRepo) MarkProcessing(ctx context.Context, id, processorRef string) error {
	filter := bson.M{"id": id, "status": models.RefundPending}
	update := bson.M{
		"$set": bson.M{"status": models.RefundProcessing, "processor_ref": processorRef},
		"$inc": bson.M{"version": 1},
	}
	return r.transition(ctx, id, filter, update)
}

func (r *MongoRefundRepo) MarkSucceeded(ctx context.Context, id string) error {
	now := time.Now()
	filter := bson.M{"id": id, "status": bson.M{"$in": []models.RefundStatus{models.RefundPending, models.RefundProcessing}}}
	update := bson.M{
		"$set": bson.M{"status": models.RefundSucceeded, "processed_at": now},
		"$inc": bson.M{"version": 1},
	}
	return r.transition(ctx, id, filter, update)
}

func (r *MongoRefundRepo) MarkFailed(ctx context.Context, id, failureReason string) error {
	now := time.Now()
	filter := bson.M{"id": id, "status": bson.M{"$in": []models.RefundStatus{models.RefundPending, models.RefundProcessing}}}
	update := bson.M{
		"$set": bson.M{"status": models.RefundFailed, "failure_reason": failureReason, "failed_at": now},
		"$inc": bson.M{"version": 1},
	}
	return r.transition(ctx, id, filter, update)
}

func (r *MongoRefundRepo) transition(ctx context.Context, id string, filter, update bson.M) error {
	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to transition refund %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		if _, ferr := r.GetByID(ctx, id); ferr != nil {
			return ferr
		}
		return ErrAlreadyTerminal
	}
	return nil
}

func (r *MongoRefundRepo) SumSucceededByBooking(ctx context.Context, bookingID string) (int64, error) {
	return r.sumByStatus(ctx, bookingID, []models.RefundStatus{models.RefundSucceeded})
}

func (r *MongoRefundRepo) SumOpenByBooking(ctx context.Context, bookingID string) (int64, error) {
	return r.sumByStatus(ctx, bookingID, []models.RefundStatus{models.RefundPending, models.RefundProcessing})
}

func (r *MongoRefundRepo) SumActiveByTransaction(ctx context.Context, transactionRef string) (int64, error) {
	match := bson.M{
		"transaction_ref": transactionRef,
		"status":          bson.M{"$ne": models.RefundFailed},
	}
	return r.sum(ctx, match)
}

func (r *MongoRefundRepo) sumByStatus(ctx context.Context, bookingID string, statuses []models.RefundStatus) (int64, error) {
	return r.sum(ctx, bson.M{"booking_id": bookingID, "status": bson.M{"$in": statuses}})
}

func (r *MongoRefundRepo) sum(ctx context.Context, match bson.M) (int64, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$amount"}}}},
	}
	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to sum refunds: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("failed to decode refund sum: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

func (r *MongoRefundRepo) FindStaleByStatus(ctx context.Context, status models.RefundStatus, cutoff time.Time, limit int64) ([]models.Refund, error) {
	filter := bson.M{
		"status":     status,
		"created_at": bson.M{"$lt": cutoff},
	}
	opts := options.Find().SetLimit(limit).SetSort(bson.M{"created_at": 1})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale refunds: %w", err)
	}
	defer cursor.Close(ctx)

	var refunds []models.Refund
	if err := cursor.All(ctx, &refunds); err != nil {
		return nil, fmt.Errorf("failed to decode stale refunds: %w", err)
	}
	return refunds, nil
}
