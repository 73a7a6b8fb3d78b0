// Package eventlog stores analytics events in MongoDB. Documents expire
// through a TTL index after model.EventRetention.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tapon/qrengine/internal/model"
)

// CollectionName is the collection holding analytics events.
const CollectionName = "analytics_events"

const connectTimeout = 10 * time.Second

// Store is the MongoDB event log. It implements analytics.EventSource and
// analytics.EventSink.
type Store struct {
	client *mongo.Client
	events *mongo.Collection
}

// New connects to MongoDB and verifies the connection.
func New(ctx context.Context, uri, database string) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(connectTimeout).
		SetAppName("qrengine")

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Store{
		client: client,
		events: client.Database(database).Collection(CollectionName),
	}, nil
}

// EnsureIndexes creates the TTL index and the query indexes. It is safe to
// call on every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateMany(ctx, indexModels())
	if err != nil {
		return fmt.Errorf("failed to create event indexes: %w", err)
	}
	return nil
}

func indexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "occurred_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_occurred_at").
				SetExpireAfterSeconds(int32(model.EventRetention / time.Second)),
		},
		{
			Keys:    bson.D{{Key: "qr_code_id", Value: 1}, {Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("qr_code_occurred_at").SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "profile_id", Value: 1}, {Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("profile_occurred_at").SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "event_type", Value: 1}, {Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("event_type_occurred_at"),
		},
	}
}

// Ping checks MongoDB connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
