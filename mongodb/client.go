package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

var (
	clientInstance *mongo.Client
	dbInstance     *mongo.Database
	initMu         sync.Mutex
)

// InitMongoDB initializes the MongoDB client and database instances.
// It should be called once at application startup. A failed attempt can be
// retried; a successful one is kept for the lifetime of the process.
func InitMongoDB(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if dbInstance != nil {
		return dbInstance, nil
	}

	log.Info().Str("db", dbName).Msg("Initializing MongoDB client")

	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetConnectTimeout(10 * time.Second)
	clientOptions.SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping the primary to verify connection.
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb primary: %w", err)
	}

	clientInstance = client
	dbInstance = client.Database(dbName)

	log.Info().Msg("MongoDB client initialized successfully.")

	return dbInstance, nil
}

// GetDB returns the MongoDB database instance, nil before InitMongoDB.
func GetDB() *mongo.Database {
	initMu.Lock()
	defer initMu.Unlock()

	return dbInstance
}

// Ping sends a ping to the MongoDB server using the global client.
// This is useful for health checks.
func Ping(ctx context.Context) error {
	initMu.Lock()
	client := clientInstance
	initMu.Unlock()

	if client == nil {
		return errors.New("mongodb client is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return client.Ping(pingCtx, readpref.Primary())
}

// CloseMongoDB disconnects the MongoDB client.
// It should be called on application shutdown.
func CloseMongoDB(ctx context.Context) {
	initMu.Lock()
	defer initMu.Unlock()

	if clientInstance == nil {
		return
	}

	log.Info().Msg("Closing MongoDB connection.")
	if err := clientInstance.Disconnect(ctx); err != nil {
		log.Error().Err(err).Msg("Error closing MongoDB connection")
	}

	clientInstance = nil
	dbInstance = nil
}
