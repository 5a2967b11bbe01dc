// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

/*
Package metrics exposes Prometheus instrumentation for the ingestion
daemon: Quota Tracker utilization and denials, Cache Store hit/miss and
footprint, Request Governor queue depth and retries, per-provider
circuit breaker state, Degradation Pipeline step usage and served
quality, and Historical Range Loader progress.

Metrics are package-level promauto collectors, registered against the
default Prometheus registry on first use and served at /metrics by
internal/api's HTTP router via promhttp.Handler.

# Naming

All metric names carry the ingestd_ prefix and follow Prometheus
conventions (_total for counters, _seconds/_bytes/_ratio units where
applicable).
*/
package metrics
