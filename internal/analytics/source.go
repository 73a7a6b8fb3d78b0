package analytics

import (
	"context"
	"time"

	"github.com/tapon/qrengine/internal/model"
)

// EventQuery selects facts from the event log. From is inclusive, To is
// exclusive. Empty fields do not filter.
type EventQuery struct {
	From       time.Time
	To         time.Time
	EventTypes []string
	ProfileID  string
	QRCodeID   string
	OrderID    string
}

// EventSource is the read side of the event log.
type EventSource interface {
	// Each calls fn for at most limit matching events, newest first. A
	// non-positive limit means no limit. A non-nil error from fn stops the
	// iteration and is returned.
	Each(ctx context.Context, q EventQuery, limit int, fn func(*model.AnalyticsEvent) error) error
	// Count returns the exact number of matching events.
	Count(ctx context.Context, q EventQuery) (int64, error)
}

// EventSink is the write side of the event log. Inserting an event whose
// ID is already stored is not an error.
type EventSink interface {
	InsertEvents(ctx context.Context, events []*model.AnalyticsEvent) error
}

// Matches reports whether e satisfies q.
func (q EventQuery) Matches(e *model.AnalyticsEvent) bool {
	if !q.From.IsZero() && e.OccurredAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !e.OccurredAt.Before(q.To) {
		return false
	}
	if q.ProfileID != "" && e.ProfileID != q.ProfileID {
		return false
	}
	if q.QRCodeID != "" && e.QRCodeID != q.QRCodeID {
		return false
	}
	if q.OrderID != "" && e.OrderID != q.OrderID {
		return false
	}
	if len(q.EventTypes) > 0 {
		for _, t := range q.EventTypes {
			if e.EventType == t {
				return true
			}
		}
		return false
	}
	return true
}
