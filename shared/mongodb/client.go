// shared/mongodb/client.go
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const connectTimeout = 10 * time.Second

// Client wraps *mongo.Client bound to one database.
type Client struct {
	mongoClient *mongo.Client
	database    string
	logger      zerolog.Logger
}

// NewClient connects and pings the primary before returning.
func NewClient(ctx context.Context, connStr, databaseName string, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().Str("component", "mongodb").Str("database", databaseName).Logger()

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connStr).SetAppName("duels-network"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		if disconnectErr := client.Disconnect(context.Background()); disconnectErr != nil {
			logger.Warn().Err(disconnectErr).Msg("Failed to disconnect MongoDB client after ping failure")
		}
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info().Msg("Connected to MongoDB")
	return &Client{
		mongoClient: client,
		database:    databaseName,
		logger:      logger,
	}, nil
}

// Collection returns the named collection of the bound database.
func (mc *Client) Collection(collectionName string) *mongo.Collection {
	return mc.mongoClient.Database(mc.database).Collection(collectionName)
}

// Ping checks the connection to the primary.
func (mc *Client) Ping(ctx context.Context) error {
	return mc.mongoClient.Ping(ctx, readpref.Primary())
}

func (mc *Client) Disconnect(ctx context.Context) error {
	mc.logger.Info().Msg("Disconnecting from MongoDB")
	return mc.mongoClient.Disconnect(ctx)
}
