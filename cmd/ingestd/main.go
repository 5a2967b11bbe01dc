// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package main is the entry point for the ingestion daemon.
//
// ingestd wires the Smart Cache, Quota & Rate Governor, and Degradation
// Pipeline into a small supervised daemon: it loads configuration, opens
// the DuckDB-backed cache store, builds the Provider Registry, and starts
// a suture v4 supervision tree (cache store / governor / stats API,
// mirroring the teacher's data/messaging/api layering) serving a minimal
// chi-routed HTTP surface at /healthz, /stats, and /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feedcore/ingestd/internal/api"
	"github.com/feedcore/ingestd/internal/cachestore"
	"github.com/feedcore/ingestd/internal/clock"
	"github.com/feedcore/ingestd/internal/config"
	"github.com/feedcore/ingestd/internal/coreerr"
	"github.com/feedcore/ingestd/internal/governor"
	"github.com/feedcore/ingestd/internal/historical"
	"github.com/feedcore/ingestd/internal/logging"
	"github.com/feedcore/ingestd/internal/policy"
	"github.com/feedcore/ingestd/internal/provider"
	"github.com/feedcore/ingestd/internal/quota"
	"github.com/feedcore/ingestd/internal/registry"
	"github.com/feedcore/ingestd/internal/supervisor"
)

// Exit codes (spec §6).
const (
	exitOK                 = 0
	exitInvalidConfig      = 1
	exitQuotaExhausted     = 2
	exitDatabaseError      = 3
	exitProviderAuthFailed = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitInvalidConfig
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	slogLogger := logging.NewSlogLogger()

	reg, keys, err := buildRegistry(cfg)
	if err != nil {
		logging.Err(err).Msg("building provider registry")
		return exitInvalidConfig
	}

	if err := checkProviderAuth(reg, keys); err != nil {
		logging.Err(err).Msg("provider authentication check failed")
		return exitProviderAuthFailed
	}

	clk := clock.NewReal()

	policyEngine := policy.New(policy.Strategy(cfg.CacheStrategy))

	cache, err := cachestore.New(cachestore.Config{Path: cfg.DBPath}, policyEngine, clk)
	if err != nil {
		logging.Err(err).Msg("opening cache store")
		return exitDatabaseError
	}
	defer func() {
		if cerr := cache.Close(); cerr != nil {
			logging.Err(cerr).Msg("closing cache store")
		}
	}()

	if err := checkInitialQuota(reg, cache, clk); err != nil {
		logging.Err(err).Msg("no provider quota and no cached fallback at startup")
		return exitQuotaExhausted
	}

	sink := quota.NewLogAlertSink(200)
	tracker := quota.New(reg, clk, sink)

	caller := provider.New(reg, provider.APIKeys(keys), 10*time.Second)

	gov := governor.New(reg, tracker, cache, policyEngine, caller, clk, governor.Config{
		MaxRetries:               3,
		RetryDelayBase:           500 * time.Millisecond,
		BackoffMultiplier:        2.0,
		EmergencyCriticalSymbols: cfg.EmergencySymbols,
		ShutdownGracePeriod:      10 * time.Second,
	})

	loader := historical.New(gov, cache, clk, nil, nil)

	providerIDs := make([]string, 0, len(cfg.Providers))
	for _, d := range reg.All() {
		providerIDs = append(providerIDs, d.ID)
	}

	apiInstance := api.New(gov, cache, loader, providerIDs)
	router := api.NewRouter(apiInstance)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Err(err).Msg("building supervisor tree")
		return exitInvalidConfig
	}

	tree.AddCacheStoreService(&cacheSweepService{cache: cache, pol: policyEngine, interval: 15 * time.Minute})
	tree.AddGovernorService(&governorService{gov: gov})
	tree.AddStatsAPIService(&httpServerService{server: httpServer})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", httpServer.Addr).Msg("ingestd starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Err(err).Msg("supervisor tree exited with error")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("services failed to stop cleanly")
	}

	logging.Info().Msg("ingestd stopped")
	return exitOK
}

// wellKnownProviders supplies the registry fields spec §6's configuration
// table intentionally omits (base_url, auth requirement, rate ceiling):
// these are fixed per provider identity, not per-deployment tunables.
var wellKnownProviders = map[string]registry.Descriptor{
	"coingecko": {
		ID: "coingecko", BaseURL: "https://api.coingecko.com/api/v3",
		MaxRequestsPerSecond: 10, AuthRequired: false,
		SupportedTimeframes: []string{"1d", "1h"},
	},
	"coinmarketcap": {
		ID: "coinmarketcap", BaseURL: "https://pro-api.coinmarketcap.com/v2",
		MaxRequestsPerSecond: 5, AuthRequired: true,
	},
	"cryptocompare": {
		ID: "cryptocompare", BaseURL: "https://min-api.cryptocompare.com/data",
		MaxRequestsPerSecond: 10, AuthRequired: true,
	},
	"binance": {
		ID: "binance", BaseURL: "https://api.binance.com/api/v3",
		MaxRequestsPerSecond: 20, AuthRequired: false,
		SupportedTimeframes: []string{"1m", "5m", "1h", "1d"},
	},
}

// buildRegistry merges each configured provider's well-known descriptor
// defaults with its config.ProviderConfig caps/credential, per spec §6.
// Providers with no well-known defaults are rejected: this daemon has no
// generic "arbitrary REST endpoint" shape to fall back to.
func buildRegistry(cfg *config.Config) (*registry.Registry, map[string]string, error) {
	var descs []registry.Descriptor
	keys := make(map[string]string, len(cfg.Providers))

	var enc *config.CredentialEncryptor
	if cfg.Security.EncryptSensitive {
		e, err := config.NewCredentialEncryptor(cfg.Security.EncryptionSecret)
		if err != nil {
			return nil, nil, fmt.Errorf("credential encryptor: %w", err)
		}
		enc = e
	}

	for id, pc := range cfg.Providers {
		base, ok := wellKnownProviders[id]
		if !ok {
			return nil, nil, coreerr.New(coreerr.KindInvalidConfig, fmt.Errorf("provider %q has no known base_url/auth profile", id))
		}
		base.DailyCap = pc.DailyCap
		base.MonthlyCap = pc.MonthlyCap
		base.MinInterval = pc.MinInterval()
		descs = append(descs, base)

		apiKey := pc.APIKey
		if apiKey != "" && enc != nil {
			plain, err := enc.Decrypt(apiKey)
			if err != nil {
				return nil, nil, fmt.Errorf("provider %q: decrypt api_key: %w", id, err)
			}
			apiKey = plain
		}
		if apiKey != "" {
			keys[id] = apiKey
		}
	}

	reg, err := registry.New(descs...)
	if err != nil {
		return nil, nil, err
	}
	return reg, keys, nil
}

// checkProviderAuth rejects startup when a provider requires
// authentication but no API key resolved for it (spec §6 exit code 4).
func checkProviderAuth(reg *registry.Registry, keys map[string]string) error {
	for _, d := range reg.All() {
		if d.AuthRequired && keys[d.ID] == "" {
			return fmt.Errorf("provider %q requires an api_key but none is configured", d.ID)
		}
	}
	return nil
}

// checkInitialQuota rejects startup only in the degenerate case where
// every configured provider already has zero daily/monthly budget left
// (e.g. restarting immediately after exhausting caps) and the cache has
// no rows to serve as a fallback (spec §6 exit code 2).
func checkInitialQuota(reg *registry.Registry, cache *cachestore.Store, clk clock.Clock) error {
	descs := reg.All()
	if len(descs) == 0 {
		return nil
	}

	tmp := quota.New(reg, clk, nil)
	for _, d := range descs {
		switch tmp.MayRequest(d.ID).Decision {
		case quota.DeniedDaily, quota.DeniedMonthly:
		default:
			return nil
		}
	}

	stats, err := cache.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}
	if len(stats) > 0 {
		return nil
	}

	return errors.New("every configured provider is at cap and the cache is empty")
}

// governorService adapts governor.Governor.Run to suture.Service.
type governorService struct {
	gov *governor.Governor
}

func (s *governorService) Serve(ctx context.Context) error {
	return s.gov.Run(ctx)
}

func (s *governorService) String() string { return "governor" }

// httpServerService adapts *http.Server to suture.Service, shutting down
// gracefully when ctx is cancelled rather than abandoning in-flight
// requests.
type httpServerService struct {
	server *http.Server
}

func (s *httpServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *httpServerService) String() string { return "stats-http-server" }

// cacheSweepService periodically runs CleanupExpired and, per data_type,
// EvictLRU so both the TTL retention policy and the max_entries_of_type cap
// (spec §4.C "evict_lru", §4.D) are enforced even with no inbound traffic.
type cacheSweepService struct {
	cache    *cachestore.Store
	pol      *policy.Engine
	interval time.Duration
}

func (s *cacheSweepService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.cache.CleanupExpired(ctx)
			if err != nil {
				logging.Err(err).Msg("cache sweep: cleanup expired")
				continue
			}
			if n > 0 {
				logging.Debug().Int64("evicted", n).Msg("cache sweep: cleaned expired entries")
			}
			s.evictOversizedTypes(ctx)
		}
	}
}

// evictOversizedTypes runs EvictLRU against every data_type currently over
// its policy's MaxEntriesOfType cap.
func (s *cacheSweepService) evictOversizedTypes(ctx context.Context) {
	if s.pol == nil {
		return
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		logging.Err(err).Msg("cache sweep: stats")
		return
	}
	for _, ts := range stats {
		limit := s.pol.PolicyFor(ts.DataType).MaxEntriesOfType
		if limit <= 0 || ts.EntryCount <= int64(limit) {
			continue
		}
		evicted, err := s.cache.EvictLRU(ctx, ts.DataType, limit)
		if err != nil {
			logging.Err(err).Str("data_type", ts.DataType).Msg("cache sweep: evict LRU")
			continue
		}
		if evicted > 0 {
			logging.Debug().Str("data_type", ts.DataType).Int64("evicted", evicted).Msg("cache sweep: evicted over-cap entries")
		}
	}
}

func (s *cacheSweepService) String() string { return "cache-sweep" }
