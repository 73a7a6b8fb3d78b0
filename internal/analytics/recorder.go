// Package analytics captures analytics events, moves them through a Redis
// stream into the event log and answers aggregate queries over that log.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tapon/qrengine/internal/metrics"
	"github.com/tapon/qrengine/internal/model"
)

const (
	// StreamKey is the Redis stream for analytics events.
	StreamKey = "stream:analytics_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:analytics_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// Recorder enqueues analytics events to the Redis stream. Recording is
// best-effort: failures are logged and counted, never returned.
type Recorder struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time

	inflight sync.WaitGroup
}

// NewRecorder creates a new analytics event recorder.
func NewRecorder(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Recorder {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Recorder{
		redis:   client,
		logger:  logger.With("component", "analytics.recorder"),
		metrics: recorder,
		now:     time.Now,
	}
}

// Prepare normalizes e, assigns its ID and timestamp when missing and
// validates it.
func (r *Recorder) Prepare(e *model.AnalyticsEvent) error {
	Normalize(e)
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now()
	}
	e.OccurredAt = e.OccurredAt.UTC()
	return ValidateEvent(e)
}

// Publish adds a prepared event to the stream synchronously.
func (r *Recorder) Publish(ctx context.Context, e *model.AnalyticsEvent) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := r.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// Record prepares e and publishes it without blocking the caller. It
// returns the prepared event, or nil when the event was dropped as invalid.
// Cancellation of ctx does not abort the publish.
func (r *Recorder) Record(ctx context.Context, e *model.AnalyticsEvent) *model.AnalyticsEvent {
	if e == nil {
		return nil
	}
	if err := r.Prepare(e); err != nil {
		r.logger.Warn("analytics_event_rejected",
			"event_type", e.EventType,
			"error", err,
		)
		r.metrics.IncAnalyticsEventPublished("invalid")
		return nil
	}

	event := *e
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PublishTimeout)
		defer cancel()

		streamID, err := r.Publish(pubCtx, &event)
		if err != nil {
			r.logger.Warn("failed to publish analytics event",
				"event_id", event.ID,
				"event_type", event.EventType,
				"error", err,
			)
			r.metrics.IncAnalyticsEventPublished("dropped")
			return
		}

		r.logger.Debug("analytics event published",
			"event_id", event.ID,
			"stream_id", streamID,
		)
		r.metrics.IncAnalyticsEventPublished("success")
	}()

	return e
}

// Flush waits for in-flight publishes, bounded by ctx.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
