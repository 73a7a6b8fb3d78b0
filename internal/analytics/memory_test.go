package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/tapon/qrengine/internal/model"
)

func TestMemoryLog_IdempotentAndBounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	log := NewMemoryLog(3)

	batch := []*model.AnalyticsEvent{
		event("b", model.EventQRScan, base.Add(2*time.Minute)),
		event("a", model.EventQRScan, base.Add(time.Minute)),
	}
	if err := log.InsertEvents(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := log.InsertEvents(ctx, batch); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if log.Len() != 2 {
		t.Fatalf("expected redelivery to be ignored, got %d events", log.Len())
	}

	if err := log.InsertEvents(ctx, []*model.AnalyticsEvent{
		event("c", model.EventQRScan, base.Add(3*time.Minute)),
		event("d", model.EventQRScan, base.Add(4*time.Minute)),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if log.Len() != 3 {
		t.Fatalf("expected capacity 3, got %d", log.Len())
	}

	var ids []string
	if err := log.Each(ctx, EventQuery{}, 0, func(e *model.AnalyticsEvent) error {
		ids = append(ids, e.ID)
		return nil
	}); err != nil {
		t.Fatalf("each: %v", err)
	}
	if len(ids) != 3 || ids[0] != "d" || ids[2] != "b" {
		t.Fatalf("expected newest-first d,c,b after evicting a, got %v", ids)
	}
}

func TestEventQuery_Matches(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := event("e", model.EventQRScan, at, onQR("qr1"))

	tests := []struct {
		name string
		q    EventQuery
		want bool
	}{
		{"empty", EventQuery{}, true},
		{"from inclusive", EventQuery{From: at}, true},
		{"to exclusive", EventQuery{To: at}, false},
		{"qr match", EventQuery{QRCodeID: "qr1"}, true},
		{"qr mismatch", EventQuery{QRCodeID: "qr2"}, false},
		{"profile filter", EventQuery{ProfileID: "p1"}, false},
		{"type in set", EventQuery{EventTypes: []string{model.EventLinkClick, model.EventQRScan}}, true},
		{"type not in set", EventQuery{EventTypes: []string{model.EventLinkClick}}, false},
	}
	for _, tt := range tests {
		if got := tt.q.Matches(e); got != tt.want {
			t.Errorf("%s: Matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}
