package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/afterschool-ops-api/internal/models"
)

// Attendance edit kinds recorded by MetricsService.
const (
	EditKindMark    = "mark"
	EditKindLine    = "line"
	EditKindAbsence = "absence"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	sessionsMaterialized    *prometheus.CounterVec
	materializationFailures *prometheus.CounterVec
	materializationDuration prometheus.Histogram
	attendanceEdits         *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	materializedCount    uint64
	failureCount         uint64
	editCount            uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	sessionsMaterialized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessions_materialized_total",
		Help: "Sessions created by the materializer",
	}, []string{"program"})

	materializationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "materialization_failures_total",
		Help: "Materializer units of work that failed",
	}, []string{"program"})

	materializationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "materialization_duration_seconds",
		Help:    "Wall time of materializer runs",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	attendanceEdits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_edits_total",
		Help: "Committed attendance writes by kind",
	}, []string{"kind"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		sessionsMaterialized, materializationFailures, materializationDuration, attendanceEdits, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:                registry,
		handler:                 handler,
		requestDuration:         requestDuration,
		requestTotal:            requestTotal,
		cacheLatency:            cacheLatency,
		cacheWrite:              cacheWrite,
		cacheHitRatio:           cacheHitRatio,
		cacheHits:               cacheHits,
		cacheMisses:             cacheMisses,
		sessionsMaterialized:    sessionsMaterialized,
		materializationFailures: materializationFailures,
		materializationDuration: materializationDuration,
		attendanceEdits:         attendanceEdits,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordMaterialization accounts for a finished materializer unit of one program.
func (m *MetricsService) RecordMaterialization(programID string, created, failed int) {
	if m == nil {
		return
	}
	if created > 0 {
		m.sessionsMaterialized.WithLabelValues(programID).Add(float64(created))
		atomic.AddUint64(&m.materializedCount, uint64(created))
	}
	if failed > 0 {
		m.materializationFailures.WithLabelValues(programID).Add(float64(failed))
		atomic.AddUint64(&m.failureCount, uint64(failed))
	}
}

// ObserveMaterializationRun records the wall time of one materializer run.
func (m *MetricsService) ObserveMaterializationRun(duration time.Duration) {
	if m == nil {
		return
	}
	m.materializationDuration.Observe(duration.Seconds())
}

// RecordAttendanceEdit counts a committed attendance write.
func (m *MetricsService) RecordAttendanceEdit(kind string) {
	if m == nil {
		return
	}
	m.attendanceEdits.WithLabelValues(kind).Inc()
	atomic.AddUint64(&m.editCount, 1)
}

// Snapshot returns aggregated metrics for the JSON metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if totalLookups := hits + misses; totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		SessionsMaterialized:     atomic.LoadUint64(&m.materializedCount),
		MaterializationFailures:  atomic.LoadUint64(&m.failureCount),
		AttendanceEdits:          atomic.LoadUint64(&m.editCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
