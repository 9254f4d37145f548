package database

import (
	"context"
	"log"
	"time"

	"paylane/config"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoClient is the global MongoDB client instance.
var MongoClient *mongo.Client

// DatabaseName is the Mongo database all repositories use.
const DatabaseName = "paylane"

// InitDB initializes the MongoDB connection and ensures indexes.
func InitDB() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(config.AppConfig.DatabaseURL)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		log.Fatalf("failed to connect to MongoDB: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Fatalf("failed to ping MongoDB: %v", err)
	}
	MongoClient = client

	if err := ensureIndexes(ctx, client.Database(DatabaseName)); err != nil {
		log.Fatalf("failed to ensure indexes: %v", err)
	}
	log.Println("Connected to MongoDB successfully!")
}

// ensureIndexes creates the indexes the engine's correctness depends on.
// The unique index on ledger.key makes the insert-if-absent reservation
// atomic; the partial unique index on transactions enforces at most one
// verified transaction per owner per stage.
func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("ledger").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = db.Collection("transactions").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "processor_ref", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "stage", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": "verified"}),
		},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection("refunds").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "booking_id", Value: 1}},
	})
	return err
}
