// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Quota Tracker metrics (spec §4.B)
	QuotaDailyUsed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestd_quota_daily_used",
			Help: "Calls used against a provider's daily cap, in the current day window",
		},
		[]string{"provider"},
	)

	QuotaMonthlyUsed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestd_quota_monthly_used",
			Help: "Calls used against a provider's monthly cap, in the current month window",
		},
		[]string{"provider"},
	)

	QuotaDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_quota_denials_total",
			Help: "Requests denied by the Quota Tracker, by provider and reason",
		},
		[]string{"provider", "decision"},
	)

	// Cache Store metrics (spec §4.C)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_cache_hits_total",
			Help: "Cache Store lookups that returned a live entry",
		},
		[]string{"data_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_cache_misses_total",
			Help: "Cache Store lookups that found no usable entry",
		},
		[]string{"data_type"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestd_cache_entries",
			Help: "Current cache_entries row count, by data type",
		},
		[]string{"data_type"},
	)

	CacheSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestd_cache_size_bytes",
			Help: "Current cache footprint in bytes, by data type",
		},
		[]string{"data_type"},
	)

	// Request Governor metrics (spec §4.F)
	GovernorQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestd_governor_queue_depth",
			Help: "Number of requests currently pending in the Governor's priority queue",
		},
	)

	GovernorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_governor_requests_total",
			Help: "Requests submitted to the Governor, by final state",
		},
		[]string{"state"},
	)

	GovernorRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_governor_retries_total",
			Help: "Provider step retries, by provider",
		},
		[]string{"provider"},
	)

	GovernorEmergencyMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestd_governor_emergency_mode",
			Help: "1 when the Governor is in emergency mode, 0 otherwise",
		},
	)

	// Circuit breaker metrics, one series per provider breaker (grounded in
	// the teacher's circuit_breaker_state gauge).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestd_circuit_breaker_state",
			Help: "Circuit breaker state per provider: 0=closed, 1=half-open, 2=open",
		},
		[]string{"provider"},
	)

	// Degradation Pipeline metrics (spec §4.E, §4.H)
	DegradationStepUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_degradation_step_total",
			Help: "Degradation plan steps that actually produced a result, by step kind",
		},
		[]string{"step"},
	)

	QualityOverall = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestd_quality_overall",
			Help:    "Distribution of Annotation.Overall() scores served to consumers",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"source_kind"},
	)

	// Historical Range Loader metrics (spec §4.G)
	HistoricalChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_historical_chunks_total",
			Help: "Historical load chunks, by outcome",
		},
		[]string{"outcome"},
	)

	HistoricalLoadProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestd_historical_load_progress_ratio",
			Help: "completed/total_chunks for each in-flight historical load",
		},
		[]string{"loading_id"},
	)
)
