package eventlog

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tapon/qrengine/internal/analytics"
	"github.com/tapon/qrengine/internal/model"
)

const (
	duplicateKeyCode = 11000
	findBatchSize    = 1000
)

// InsertEvents writes events unordered. Events whose _id already exists,
// as happens when a stream message is redelivered, are skipped.
func (s *Store) InsertEvents(ctx context.Context, events []*model.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}

	docs := make([]interface{}, len(events))
	for i, e := range events {
		docs[i] = e
	}

	_, err := s.events.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil || onlyDuplicates(err) {
		return nil
	}
	return fmt.Errorf("failed to insert events: %w", err)
}

// Each implements analytics.EventSource.
func (s *Store) Each(ctx context.Context, q analytics.EventQuery, limit int, fn func(*model.AnalyticsEvent) error) error {
	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetBatchSize(findBatchSize)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.events.Find(ctx, buildFilter(q), opts)
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var e model.AnalyticsEvent
		if err := cursor.Decode(&e); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(&e); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// Count implements analytics.EventSource.
func (s *Store) Count(ctx context.Context, q analytics.EventQuery) (int64, error) {
	n, err := s.events.CountDocuments(ctx, buildFilter(q))
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func buildFilter(q analytics.EventQuery) bson.D {
	filter := bson.D{}

	occurred := bson.D{}
	if !q.From.IsZero() {
		occurred = append(occurred, bson.E{Key: "$gte", Value: q.From})
	}
	if !q.To.IsZero() {
		occurred = append(occurred, bson.E{Key: "$lt", Value: q.To})
	}
	if len(occurred) > 0 {
		filter = append(filter, bson.E{Key: "occurred_at", Value: occurred})
	}

	switch len(q.EventTypes) {
	case 0:
	case 1:
		filter = append(filter, bson.E{Key: "event_type", Value: q.EventTypes[0]})
	default:
		filter = append(filter, bson.E{Key: "event_type", Value: bson.D{{Key: "$in", Value: q.EventTypes}}})
	}

	if q.ProfileID != "" {
		filter = append(filter, bson.E{Key: "profile_id", Value: q.ProfileID})
	}
	if q.QRCodeID != "" {
		filter = append(filter, bson.E{Key: "qr_code_id", Value: q.QRCodeID})
	}
	if q.OrderID != "" {
		filter = append(filter, bson.E{Key: "order_id", Value: q.OrderID})
	}
	return filter
}

func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return false
	}
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}
