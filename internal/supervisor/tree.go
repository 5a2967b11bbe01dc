// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns production-ready defaults.
// These values match suture's built-in defaults per pkg.go.dev documentation.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// SupervisorTree manages the hierarchical supervisor structure for the
// ingestion daemon.
//
// The tree is organized into three layers:
//   - cacheStore: the persistent cache store's background eviction/cleanup loop
//   - governor: the request governor's worker pool and per-provider schedulers
//   - statsAPI: the HTTP stats/health/metrics surface
//
// This structure provides failure isolation - a crash in a provider worker
// won't affect the cache store's ability to serve already-cached responses,
// and won't take down the stats surface.
type SupervisorTree struct {
	root       *suture.Supervisor
	cacheStore *suture.Supervisor
	governor   *suture.Supervisor
	statsAPI   *suture.Supervisor
	logger     *slog.Logger
	config     TreeConfig
}

// NewSupervisorTree creates a new supervisor tree with the given configuration.
func NewSupervisorTree(logger *slog.Logger, config TreeConfig) (*SupervisorTree, error) {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	// IMPORTANT: the correct API is (&Handler{Logger: logger}).MustHook(),
	// not sutureslog.EventHook(logger), which does not exist.
	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	// Child supervisors use the same failure parameters and inherit the
	// EventHook when added to the root.
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("ingestd", rootSpec)
	cacheStore := suture.New("cache-store-layer", childSpec)
	governor := suture.New("governor-layer", childSpec)
	statsAPI := suture.New("stats-api-layer", childSpec)

	root.Add(cacheStore)
	root.Add(governor)
	root.Add(statsAPI)

	return &SupervisorTree{
		root:       root,
		cacheStore: cacheStore,
		governor:   governor,
		statsAPI:   statsAPI,
		logger:     logger,
		config:     config,
	}, nil
}

// Root returns the root supervisor for direct access if needed.
func (t *SupervisorTree) Root() *suture.Supervisor {
	return t.root
}

// AddCacheStoreService adds a service to the cache store layer supervisor.
// Use this for the cache's expired-entry sweeper and LRU evictor.
func (t *SupervisorTree) AddCacheStoreService(svc suture.Service) suture.ServiceToken {
	return t.cacheStore.Add(svc)
}

// AddGovernorService adds a service to the governor layer supervisor.
// Use this for per-provider request workers and the historical range loader.
func (t *SupervisorTree) AddGovernorService(svc suture.Service) suture.ServiceToken {
	return t.governor.Add(svc)
}

// AddStatsAPIService adds a service to the stats API layer supervisor.
// Use this for the HTTP stats/health/metrics server.
func (t *SupervisorTree) AddStatsAPIService(svc suture.Service) suture.ServiceToken {
	return t.statsAPI.Add(svc)
}

// RemoveGovernorService removes a service from the governor layer supervisor.
func (t *SupervisorTree) RemoveGovernorService(token suture.ServiceToken) error {
	return t.governor.Remove(token)
}

// Serve starts the supervisor tree and blocks until the context is canceled.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the supervisor tree in a background goroutine.
// Returns a channel that receives the error (or nil) when the supervisor stops.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport returns information about services that failed to
// stop within the configured shutdown timeout.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// Remove removes a service from the tree by its token.
func (t *SupervisorTree) Remove(token suture.ServiceToken) error {
	return t.root.Remove(token)
}

// RemoveAndWait removes a service and waits for it to fully stop.
func (t *SupervisorTree) RemoveAndWait(token suture.ServiceToken, timeout time.Duration) error {
	return t.root.RemoveAndWait(token, timeout)
}
