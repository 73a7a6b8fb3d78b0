package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tapon/qrengine/internal/metrics"
	"github.com/tapon/qrengine/internal/model"
)

// ConsumerGroup is the Redis consumer group shared by all workers.
const ConsumerGroup = "analytics_workers"

const deadLetterMaxLen = 10000

// WorkerConfig tunes a Worker. Zero fields take the defaults below.
type WorkerConfig struct {
	// Consumer names this worker inside ConsumerGroup.
	Consumer string
	// BatchSize caps the messages read per XREADGROUP.
	BatchSize int
	// Block is how long a read waits for new messages.
	Block time.Duration
	// Attempts is how many times a batch insert is tried.
	Attempts int
	// Backoff is the base delay between insert attempts.
	Backoff time.Duration
	// ClaimEvery and ClaimIdle control reclaiming of messages left pending
	// by a consumer that died mid-batch.
	ClaimEvery time.Duration
	ClaimIdle  time.Duration
	// DepthEvery is how often the backlog gauge is refreshed.
	DepthEvery time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Consumer == "" {
		c.Consumer = NewConsumerID()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.ClaimEvery <= 0 {
		c.ClaimEvery = 10 * time.Second
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = 30 * time.Second
	}
	if c.DepthEvery <= 0 {
		c.DepthEvery = 5 * time.Second
	}
	return c
}

// NewConsumerID returns a consumer name unique to this process.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "qrengine"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}

// Worker moves scan and engagement events from the Redis stream into the
// event log the aggregator reads from.
type Worker struct {
	redis   *redis.Client
	sink    EventSink
	logger  *slog.Logger
	metrics metrics.Recorder
	cfg     WorkerConfig

	claimCursor string
	nextClaim   time.Time
	nextDepth   time.Time

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	done    chan struct{}
}

// NewWorker creates a worker reading StreamKey on behalf of cfg.Consumer.
func NewWorker(client *redis.Client, sink EventSink, logger *slog.Logger, recorder metrics.Recorder, cfg WorkerConfig) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	cfg = cfg.withDefaults()
	return &Worker{
		redis:       client,
		sink:        sink,
		logger:      logger.With("component", "analytics.worker", "consumer", cfg.Consumer),
		metrics:     recorder,
		cfg:         cfg,
		claimCursor: "0-0",
	}
}

// Run consumes the stream until ctx is cancelled or Shutdown is called.
// It matches server.TaskFunc.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("analytics worker already running")
	}
	w.running = true
	ctx, w.stop = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.mu.Unlock()
	defer close(w.done)

	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	w.logger.Info("analytics worker started", "batch_size", w.cfg.BatchSize)
	for ctx.Err() == nil {
		if err := w.step(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("analytics worker step failed", "error", err)
			sleep(ctx, time.Second)
		}
	}
	w.logger.Info("analytics worker stopped")
	return nil
}

// Shutdown stops Run after the batch in hand is acknowledged or left pending.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("analytics worker did not stop in time")
		return ctx.Err()
	}
}

// step handles one batch: reclaimed messages when any are due, otherwise
// fresh ones from the stream.
func (w *Worker) step(ctx context.Context) error {
	w.refreshDepth(ctx)

	messages, reclaimed, err := w.claim(ctx)
	if err != nil {
		w.logger.Warn("reclaim pending failed", "error", err)
	}
	if len(messages) == 0 {
		reclaimed = false
		if messages, err = w.read(ctx); err != nil {
			return err
		}
	}
	if len(messages) == 0 {
		return nil
	}

	b := decodeBatch(messages)
	w.deadLetter(ctx, b.poison)

	if len(b.events) > 0 {
		if err := w.persist(ctx, b.events); err != nil {
			if ctx.Err() != nil || !reclaimed {
				// Unacked messages come back through XAUTOCLAIM.
				return err
			}
			// Second failure for these messages; park them.
			w.logger.Error("dropping reclaimed batch to dead letter", "events", len(b.events), "error", err)
			w.deadLetter(ctx, b.persistFailures(err))
		}
	}

	if err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, b.ids...).Err(); err != nil {
		return fmt.Errorf("ack %d messages: %w", len(b.ids), err)
	}
	return nil
}

func (w *Worker) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.cfg.Consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.cfg.BatchSize),
		Block:    w.cfg.Block,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read stream: %w", err)
	case len(streams) == 0:
		return nil, nil
	}
	return streams[0].Messages, nil
}

func (w *Worker) claim(ctx context.Context) ([]redis.XMessage, bool, error) {
	now := time.Now()
	if now.Before(w.nextClaim) {
		return nil, false, nil
	}
	w.nextClaim = now.Add(w.cfg.ClaimEvery)

	messages, cursor, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.cfg.Consumer,
		MinIdle:  w.cfg.ClaimIdle,
		Start:    w.claimCursor,
		Count:    int64(w.cfg.BatchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("autoclaim: %w", err)
	}
	if cursor != "" {
		w.claimCursor = cursor
	}
	if len(messages) > 0 {
		w.logger.Info("reclaimed pending events", "count", len(messages))
	}
	return messages, true, nil
}

func (w *Worker) refreshDepth(ctx context.Context) {
	now := time.Now()
	if now.Before(w.nextDepth) {
		return
	}
	w.nextDepth = now.Add(w.cfg.DepthEvery)

	groups, err := w.redis.XInfoGroups(ctx, StreamKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			w.logger.Debug("stream group info unavailable", "error", err)
		}
		return
	}
	for _, g := range groups {
		if g.Name == ConsumerGroup {
			w.metrics.SetAnalyticsQueueDepth(g.Pending + g.Lag)
			return
		}
	}
}

// persist inserts events, retrying with jittered exponential backoff.
func (w *Worker) persist(ctx context.Context, events []*model.AnalyticsEvent) error {
	var err error
	for attempt := 0; attempt < w.cfg.Attempts; attempt++ {
		if attempt > 0 {
			delay := w.cfg.Backoff << (attempt - 1)
			delay = delay/2 + rand.N(delay/2+1)
			w.logger.Warn("event insert failed, retrying", "attempt", attempt, "delay", delay, "error", err)
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
		}

		start := time.Now()
		if err = w.sink.InsertEvents(ctx, events); err == nil {
			elapsed := time.Since(start)
			w.metrics.ObserveAnalyticsBatchSize(len(events))
			w.metrics.ObserveAnalyticsBatchDuration(elapsed)
			for _, e := range events {
				w.metrics.IncAnalyticsEventProcessed("success")
				w.metrics.ObserveAnalyticsIngestLag(start.Sub(e.OccurredAt))
			}
			w.logger.Debug("events persisted", "count", len(events), "duration", elapsed)
			return nil
		}
	}
	for range events {
		w.metrics.IncAnalyticsEventProcessed("failed")
	}
	return fmt.Errorf("insert %d events: %w", len(events), err)
}

// deadLetter copies rejected messages to DeadLetterStreamKey in one
// pipeline. The originals are acknowledged by the caller.
func (w *Worker) deadLetter(ctx context.Context, rejected []rejectedMessage) {
	if len(rejected) == 0 {
		return
	}
	at := time.Now().UTC().Format(time.RFC3339)
	_, err := w.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, r := range rejected {
			p.XAdd(ctx, &redis.XAddArgs{
				Stream: DeadLetterStreamKey,
				MaxLen: deadLetterMaxLen,
				Approx: true,
				Values: map[string]interface{}{
					"original_id":      r.msg.ID,
					"reason":           r.reason,
					"detail":           r.detail,
					"payload":          r.msg.Values["payload"],
					"dead_lettered_at": at,
				},
			})
		}
		return nil
	})
	if err != nil {
		w.logger.Error("dead letter write failed", "count", len(rejected), "error", err)
	}
	for _, r := range rejected {
		w.logger.Warn("event dead-lettered", "message_id", r.msg.ID, "reason", r.reason, "detail", r.detail)
		w.metrics.IncAnalyticsEventProcessed("dead_lettered")
	}
}

type rejectedMessage struct {
	msg    redis.XMessage
	reason string
	detail string
}

// streamBatch is one read from the stream split into insertable events and
// messages that can never be inserted.
type streamBatch struct {
	ids    []string
	events []*model.AnalyticsEvent
	poison []rejectedMessage
	// origin maps an event back to the message it came from.
	origin map[*model.AnalyticsEvent]redis.XMessage
}

// decodeBatch parses every message. A redelivered event whose ID was already
// seen in the batch is acknowledged without being inserted twice.
func decodeBatch(messages []redis.XMessage) *streamBatch {
	b := &streamBatch{
		ids:    make([]string, 0, len(messages)),
		events: make([]*model.AnalyticsEvent, 0, len(messages)),
		origin: make(map[*model.AnalyticsEvent]redis.XMessage, len(messages)),
	}
	seen := make(map[string]struct{}, len(messages))

	for _, msg := range messages {
		b.ids = append(b.ids, msg.ID)

		raw, ok := msg.Values["payload"].(string)
		if !ok {
			b.poison = append(b.poison, rejectedMessage{msg, "invalid_format", "payload missing or not a string"})
			continue
		}
		event := new(model.AnalyticsEvent)
		if err := json.Unmarshal([]byte(raw), event); err != nil {
			b.poison = append(b.poison, rejectedMessage{msg, "unmarshal_error", err.Error()})
			continue
		}
		if err := validateStored(event); err != nil {
			b.poison = append(b.poison, rejectedMessage{msg, "validation_error", err.Error()})
			continue
		}
		if _, dup := seen[event.ID]; dup {
			continue
		}
		seen[event.ID] = struct{}{}

		event.EventID = msg.ID
		b.events = append(b.events, event)
		b.origin[event] = msg
	}
	return b
}

func (b *streamBatch) persistFailures(err error) []rejectedMessage {
	out := make([]rejectedMessage, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, rejectedMessage{b.origin[e], "persist_error", err.Error()})
	}
	return out
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
