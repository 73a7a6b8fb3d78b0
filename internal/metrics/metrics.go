// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Scan outcomes reported through IncScan.
const (
	ScanAccepted     = "accepted"
	ScanInactive     = "inactive"
	ScanExpired      = "expired"
	ScanLimitReached = "limit_reached"
	ScanDenied       = "password"
	ScanError        = "error"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Scan metrics
	IncScan(outcome string)
	ObserveScanDuration(duration time.Duration)
	IncScanConflict()

	// Profile URL cache
	IncProfileCacheHit()
	IncProfileCacheMiss()

	// QR management metrics
	IncQRCreated()
	IncQRUpdated()
	IncQRDeleted()

	// Analytics pipeline metrics
	IncAnalyticsEventPublished(status string) // status: "success" or "dropped"
	IncAnalyticsEventProcessed(status string) // status: "success", "failed", "dead_lettered"
	ObserveAnalyticsBatchSize(size int)
	ObserveAnalyticsBatchDuration(duration time.Duration)
	SetAnalyticsQueueDepth(depth int64)
	ObserveAnalyticsIngestLag(lag time.Duration)
}
