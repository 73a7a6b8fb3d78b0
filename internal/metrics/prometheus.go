package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qrengine"

// PrometheusRecorder exports metrics through a Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	scans         *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	scanConflicts prometheus.Counter
	profileCache  *prometheus.CounterVec
	qrOps         *prometheus.CounterVec

	published     *prometheus.CounterVec
	processed     *prometheus.CounterVec
	batchSize     prometheus.Histogram
	batchDuration prometheus.Histogram
	queueDepth    prometheus.Gauge
	ingestLag     prometheus.Histogram
}

// NewPrometheus registers all collectors, plus the Go and process
// collectors, on a fresh registry.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scan attempts by outcome.",
		}, []string{"outcome"}),
		scanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Time to evaluate and apply a scan.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		scanConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_conflicts_total",
			Help:      "Scans that passed the first gate check but were refused under the row lock.",
		}),
		profileCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_cache_requests_total",
			Help:      "Profile URL cache lookups by result.",
		}, []string{"result"}),
		qrOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qr_codes_total",
			Help:      "QR code writes by operation.",
		}, []string{"op"}),
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_events_published_total",
			Help:      "Analytics events handed to the stream.",
		}, []string{"status"}),
		processed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_events_processed_total",
			Help:      "Analytics events drained into the event log.",
		}, []string{"status"}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analytics_batch_size",
			Help:      "Events per worker batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analytics_batch_duration_seconds",
			Help:      "Time to persist a worker batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analytics_queue_depth",
			Help:      "Pending plus unread entries in the analytics stream.",
		}),
		ingestLag: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analytics_ingest_lag_seconds",
			Help:      "Delay between an event occurring and reaching the event log.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusRecorder) IncScan(outcome string) { p.scans.WithLabelValues(outcome).Inc() }

func (p *PrometheusRecorder) ObserveScanDuration(duration time.Duration) {
	p.scanDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncScanConflict()     { p.scanConflicts.Inc() }
func (p *PrometheusRecorder) IncProfileCacheHit()  { p.profileCache.WithLabelValues("hit").Inc() }
func (p *PrometheusRecorder) IncProfileCacheMiss() { p.profileCache.WithLabelValues("miss").Inc() }
func (p *PrometheusRecorder) IncQRCreated()        { p.qrOps.WithLabelValues("create").Inc() }
func (p *PrometheusRecorder) IncQRUpdated()        { p.qrOps.WithLabelValues("update").Inc() }
func (p *PrometheusRecorder) IncQRDeleted()        { p.qrOps.WithLabelValues("delete").Inc() }

func (p *PrometheusRecorder) IncAnalyticsEventPublished(status string) {
	p.published.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncAnalyticsEventProcessed(status string) {
	p.processed.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveAnalyticsBatchSize(size int) {
	p.batchSize.Observe(float64(size))
}

func (p *PrometheusRecorder) ObserveAnalyticsBatchDuration(duration time.Duration) {
	p.batchDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) SetAnalyticsQueueDepth(depth int64) {
	p.queueDepth.Set(float64(depth))
}

func (p *PrometheusRecorder) ObserveAnalyticsIngestLag(lag time.Duration) {
	p.ingestLag.Observe(lag.Seconds())
}
