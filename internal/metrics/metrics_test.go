package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInMemoryRecorder_Snapshot(t *testing.T) {
	t.Parallel()

	m := NewInMemory()
	m.IncScan(ScanAccepted)
	m.IncScan(ScanAccepted)
	m.IncScan(ScanLimitReached)
	m.IncScanConflict()
	m.IncQRCreated()
	m.IncAnalyticsEventPublished("dropped")
	m.ObserveAnalyticsBatchSize(7)
	m.ObserveAnalyticsIngestLag(2 * time.Second)
	m.ObserveAnalyticsIngestLag(time.Second)

	snap := m.Snapshot()
	if snap.Scans[ScanAccepted] != 2 || snap.Scans[ScanLimitReached] != 1 {
		t.Fatalf("unexpected scan counts: %v", snap.Scans)
	}
	if snap.ScanConflicts != 1 || snap.QRCreated != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.EventsPublished["dropped"] != 1 {
		t.Fatalf("expected one dropped event, got %v", snap.EventsPublished)
	}
	if snap.AnalyticsBatchCount != 1 || snap.AnalyticsBatchEvents != 7 {
		t.Fatalf("unexpected batch counters: %d/%d", snap.AnalyticsBatchCount, snap.AnalyticsBatchEvents)
	}
	if snap.AnalyticsIngestLagMaxNs != int64(2*time.Second) {
		t.Fatalf("expected max lag 2s, got %v", time.Duration(snap.AnalyticsIngestLagMaxNs))
	}

	// snapshots are copies
	snap.Scans[ScanAccepted] = 100
	if m.Snapshot().Scans[ScanAccepted] != 2 {
		t.Fatal("snapshot shares state with recorder")
	}
}

func TestPrometheusRecorder_Exposition(t *testing.T) {
	t.Parallel()

	p := NewPrometheus()
	p.IncScan(ScanExpired)
	p.IncProfileCacheHit()
	p.SetAnalyticsQueueDepth(3)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`qrengine_scans_total{outcome="expired"} 1`,
		`qrengine_profile_cache_requests_total{result="hit"} 1`,
		`qrengine_analytics_queue_depth 3`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
