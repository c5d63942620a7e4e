package models

import "time"

// SystemMetrics is an instrumentation snapshot served alongside Prometheus output.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"avg_request_duration_ms"`
	SessionsMaterialized     uint64    `json:"sessions_materialized"`
	MaterializationFailures  uint64    `json:"materialization_failures"`
	AttendanceEdits          uint64    `json:"attendance_edits"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
