package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Scans                   map[string]uint64
	ScanConflicts           uint64
	ScanDurationCount       uint64
	ScanDurationTotalNs     int64
	ProfileCacheHits        uint64
	ProfileCacheMisses      uint64
	QRCreated               uint64
	QRUpdated               uint64
	QRDeleted               uint64
	EventsPublished         map[string]uint64
	EventsProcessed         map[string]uint64
	AnalyticsBatchCount     uint64
	AnalyticsBatchEvents    uint64
	AnalyticsQueueDepth     int64
	AnalyticsIngestLagMaxNs int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	scanConflicts       uint64
	scanDurationCount   uint64
	scanDurationTotalNs int64
	profileCacheHits    uint64
	profileCacheMisses  uint64
	qrCreated           uint64
	qrUpdated           uint64
	qrDeleted           uint64
	batchCount          uint64
	batchEvents         uint64
	queueDepth          int64
	ingestLagMaxNs      int64

	mu        sync.Mutex
	scans     map[string]uint64
	published map[string]uint64
	processed map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		scans:     make(map[string]uint64),
		published: make(map[string]uint64),
		processed: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	scans := copyCounts(m.scans)
	published := copyCounts(m.published)
	processed := copyCounts(m.processed)
	m.mu.Unlock()

	return Snapshot{
		Scans:                   scans,
		ScanConflicts:           atomic.LoadUint64(&m.scanConflicts),
		ScanDurationCount:       atomic.LoadUint64(&m.scanDurationCount),
		ScanDurationTotalNs:     atomic.LoadInt64(&m.scanDurationTotalNs),
		ProfileCacheHits:        atomic.LoadUint64(&m.profileCacheHits),
		ProfileCacheMisses:      atomic.LoadUint64(&m.profileCacheMisses),
		QRCreated:               atomic.LoadUint64(&m.qrCreated),
		QRUpdated:               atomic.LoadUint64(&m.qrUpdated),
		QRDeleted:               atomic.LoadUint64(&m.qrDeleted),
		EventsPublished:         published,
		EventsProcessed:         processed,
		AnalyticsBatchCount:     atomic.LoadUint64(&m.batchCount),
		AnalyticsBatchEvents:    atomic.LoadUint64(&m.batchEvents),
		AnalyticsQueueDepth:     atomic.LoadInt64(&m.queueDepth),
		AnalyticsIngestLagMaxNs: atomic.LoadInt64(&m.ingestLagMaxNs),
	}
}

// IncScan counts a scan by outcome.
func (m *InMemoryRecorder) IncScan(outcome string) {
	m.inc(m.scans, outcome)
}

// ObserveScanDuration records scan duration.
func (m *InMemoryRecorder) ObserveScanDuration(duration time.Duration) {
	atomic.AddUint64(&m.scanDurationCount, 1)
	atomic.AddInt64(&m.scanDurationTotalNs, duration.Nanoseconds())
}

// IncScanConflict counts a scan that passed the first gate check but was
// refused once the record was locked.
func (m *InMemoryRecorder) IncScanConflict() {
	atomic.AddUint64(&m.scanConflicts, 1)
}

func (m *InMemoryRecorder) IncProfileCacheHit()  { atomic.AddUint64(&m.profileCacheHits, 1) }
func (m *InMemoryRecorder) IncProfileCacheMiss() { atomic.AddUint64(&m.profileCacheMisses, 1) }
func (m *InMemoryRecorder) IncQRCreated()        { atomic.AddUint64(&m.qrCreated, 1) }
func (m *InMemoryRecorder) IncQRUpdated()        { atomic.AddUint64(&m.qrUpdated, 1) }
func (m *InMemoryRecorder) IncQRDeleted()        { atomic.AddUint64(&m.qrDeleted, 1) }

// IncAnalyticsEventPublished counts a publish attempt by status.
func (m *InMemoryRecorder) IncAnalyticsEventPublished(status string) {
	m.inc(m.published, status)
}

// IncAnalyticsEventProcessed counts a processed event by status.
func (m *InMemoryRecorder) IncAnalyticsEventProcessed(status string) {
	m.inc(m.processed, status)
}

// ObserveAnalyticsBatchSize records a processed batch.
func (m *InMemoryRecorder) ObserveAnalyticsBatchSize(size int) {
	atomic.AddUint64(&m.batchCount, 1)
	atomic.AddUint64(&m.batchEvents, uint64(size))
}

func (m *InMemoryRecorder) ObserveAnalyticsBatchDuration(duration time.Duration) {}

// SetAnalyticsQueueDepth stores the latest queue depth.
func (m *InMemoryRecorder) SetAnalyticsQueueDepth(depth int64) {
	atomic.StoreInt64(&m.queueDepth, depth)
}

// ObserveAnalyticsIngestLag keeps the largest lag seen.
func (m *InMemoryRecorder) ObserveAnalyticsIngestLag(lag time.Duration) {
	for {
		cur := atomic.LoadInt64(&m.ingestLagMaxNs)
		if lag.Nanoseconds() <= cur || atomic.CompareAndSwapInt64(&m.ingestLagMaxNs, cur, lag.Nanoseconds()) {
			return
		}
	}
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, label string) {
	m.mu.Lock()
	counts[label]++
	m.mu.Unlock()
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
