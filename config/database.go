package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	DB           *mongo.Client
	databaseName string
)

// ConnectDB establishes the MongoDB connection used by all collections.
func ConnectDB(cfg *Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping MongoDB: %w", err)
	}

	DB = client
	databaseName = cfg.DatabaseName
	return nil
}

// GetCollection returns a handle to a named collection.
func GetCollection(collectionName string) *mongo.Collection {
	return DB.Database(databaseName).Collection(collectionName)
}

// DisconnectDB closes the MongoDB connection.
func DisconnectDB() error {
	if DB == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return DB.Disconnect(ctx)
}
