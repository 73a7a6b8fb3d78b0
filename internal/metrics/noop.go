package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncScan(outcome string)                               {}
func (n *NoopRecorder) ObserveScanDuration(duration time.Duration)           {}
func (n *NoopRecorder) IncScanConflict()                                     {}
func (n *NoopRecorder) IncProfileCacheHit()                                  {}
func (n *NoopRecorder) IncProfileCacheMiss()                                 {}
func (n *NoopRecorder) IncQRCreated()                                        {}
func (n *NoopRecorder) IncQRUpdated()                                        {}
func (n *NoopRecorder) IncQRDeleted()                                        {}
func (n *NoopRecorder) IncAnalyticsEventPublished(status string)             {}
func (n *NoopRecorder) IncAnalyticsEventProcessed(status string)             {}
func (n *NoopRecorder) ObserveAnalyticsBatchSize(size int)                   {}
func (n *NoopRecorder) ObserveAnalyticsBatchDuration(duration time.Duration) {}
func (n *NoopRecorder) SetAnalyticsQueueDepth(depth int64)                   {}
func (n *NoopRecorder) ObserveAnalyticsIngestLag(lag time.Duration)          {}
