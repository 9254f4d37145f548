package subRepo

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

// MongoSubscriptionRepo implements SubscriptionRepository using MongoDB.
type MongoSubscriptionRepo struct {
	coll *mongo.Collection
}

// NewMongoSubscriptionRepo creates a new instance of SubscriptionRepository using MongoDB.
func NewMongoSubscriptionRepo() SubscriptionRepository {
	coll := database.MongoClient.Database(database.DatabaseName).Collection("subscriptions")
	return &MongoSubscriptionRepo{coll: coll}
}

func (r *MongoSubscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.Version = 1

	if _, err := r.coll.InsertOne(ctx, sub); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *MongoSubscriptionRepo) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&sub)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription %s: %w", id, err)
	}
	return &sub, nil
}

func (r *MongoSubscriptionRepo) UpdateStatus(ctx context.Context, id string, expectVersion int64, status models.SubscriptionStatus) error {
	filter := bson.M{"id": id, "version": expectVersion}
	update := bson.M{
		"$set": bson.M{"status": status, "updated_at": time.Now()},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update subscription %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrStaleVersion
	}
	return nil
}

func (r *MongoSubscriptionRepo) FindTrialingEnded(ctx context.Context, at time.Time, limit int64) ([]models.Subscription, error) {
	return r.find(ctx, bson.M{
		"status":    models.SubTrialing,
		"trial_end": bson.M{"$lte": at},
	}, limit)
}

func (r *MongoSubscriptionRepo) FindPastDue(ctx context.Context, at time.Time, limit int64) ([]models.Subscription, error) {
	return r.find(ctx, bson.M{
		"status":    models.SubPastDue,
		"trial_end": bson.M{"$lte": at},
	}, limit)
}

func (r *MongoSubscriptionRepo) find(ctx context.Context, filter bson.M, limit int64) ([]models.Subscription, error) {
	opts := options.Find().SetLimit(limit).SetSort(bson.M{"trial_end": 1})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find subscriptions: %w", err)
	}
	defer cursor.Close(ctx)

	var subs []models.Subscription
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, fmt.Errorf("failed to decode subscriptions: %w", err)
	}
	return subs, nil
}
