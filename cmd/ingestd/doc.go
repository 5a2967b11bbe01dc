// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

/*
Package main is the entry point for ingestd, a personal-use cryptocurrency
market-data ingestion daemon.

ingestd sits between a handful of free-tier market-data providers and a
local consumer, protecting the providers' daily/monthly call budgets while
still answering every request with the freshest data it can afford. It
combines three subsystems:

  - Smart Cache: a DuckDB-backed, content-addressed, per-data-type cache
    with retention policy enforcement (internal/cachestore, internal/policy).
  - Quota & Rate Governor: exact per-provider daily/monthly counters,
    minimum inter-request spacing, and emergency mode
    (internal/quota, internal/governor).
  - Degradation Pipeline: a priority-ordered waterfall from cache, to the
    primary provider, to alternate providers, to interpolation, to a
    static fallback, with every result quality-scored
    (internal/degrade, internal/quality).

# Process architecture

	RootSupervisor
	├── cache store layer  (periodic expired-entry sweep)
	├── governor layer     (request dispatch loop)
	└── stats API layer    (chi-routed HTTP: /healthz, /stats, /metrics)

This mirrors the teacher's data/messaging/api supervisor layering
(internal/supervisor/tree.go), generalized from media-server sync workers
to market-data provider workers.

# Configuration

Configuration loads via internal/config (Koanf v2: defaults, then an
optional YAML file, then environment variables, highest priority last).
See internal/config's documentation for the recognized options and
environment variable names.

# Exit codes

	0  clean shutdown
	1  invalid configuration
	2  every configured provider is already at its quota cap and the
	   cache has no rows to serve as a fallback
	3  cache store (DuckDB) could not be opened or its schema created
	4  a provider requires authentication but no API key resolved for it

# Signal handling

SIGINT and SIGTERM trigger a graceful shutdown: the supervisor tree's
context is cancelled, the HTTP server stops accepting new connections and
drains in-flight requests (bounded by a 10s timeout), the governor's
dispatch loop exits, and the cache store is closed last.
*/
package main
