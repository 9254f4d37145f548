package bookingRepo

import (
	"context"
	"fmt"
	"time"

	"paylane/database"
	"paylane/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoBookingRepo implements BookingRepository using MongoDB.
type MongoBookingRepo struct {
	coll *mongo.Collection
}

// NewMongoBookingRepo creates a new instance of BookingRepository using MongoDB.
func NewMongoBookingRepo() BookingRepository {
	coll := database.MongoClient.Database(database.DatabaseName).Collection("bookings")
	return &MongoBookingRepo{coll: coll}
}

func (r *MongoBookingRepo) Create(ctx context.Context, booking *models.Booking) error {
	now := time.Now()
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1

	if _, err := r.coll.InsertOne(ctx, booking); err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (r *MongoBookingRepo) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&booking)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch booking %s: %w", id, err)
	}
	return &booking, nil
}

// UpdatePaymentState applies the new payment status only if the stored version
// still matches expectVersion. A zero MatchedCount means a concurrent writer
// got there first.
func (r *MongoBookingRepo) UpdatePaymentState(ctx context.Context, id string, expectVersion int64, status models.PaymentStatus, refundedAmount int64) error {
	filter := bson.M{"id": id, "version": expectVersion}
	update := bson.M{
		"$set": bson.M{
			"payment_status":  status,
			"refunded_amount": refundedAmount,
			"updated_at":      time.Now(),
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update booking %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrStaleVersion
	}
	return nil
}
