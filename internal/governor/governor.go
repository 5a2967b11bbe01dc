// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package governor implements the Request Governor (spec §4.F): the
// central coordination point that turns a Degradation Plan into dispatched
// provider calls, enforcing single-flight-per-provider, emergency mode,
// and retry-with-backoff.
//
// Grounded in the teacher's internal/sync/circuit_breaker.go gobreaker
// wiring (per-provider breaker, OnStateChange metrics hook) and its
// worker-supervision style from internal/supervisor/tree.go, generalized
// from a single Tautulli client to N provider workers coordinated through
// one shared priority queue, per original_source/ApiLimitHandler.h's
// requestDataWithFallback waterfall.
package governor

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/feedcore/ingestd/internal/cachestore"
	"github.com/feedcore/ingestd/internal/clock"
	"github.com/feedcore/ingestd/internal/coreerr"
	"github.com/feedcore/ingestd/internal/degrade"
	"github.com/feedcore/ingestd/internal/logging"
	"github.com/feedcore/ingestd/internal/metrics"
	"github.com/feedcore/ingestd/internal/policy"
	"github.com/feedcore/ingestd/internal/quality"
	"github.com/feedcore/ingestd/internal/quota"
	"github.com/feedcore/ingestd/internal/registry"
)

// State is a Request's position in the state machine (spec §4.F).
type State int

const (
	StateNew State = iota
	StateCacheLookup
	StateQueued
	StateReady
	StateInFlight
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateCacheLookup:
		return "CACHE_LOOKUP"
	case StateQueued:
		return "QUEUED"
	case StateReady:
		return "READY"
	case StateInFlight:
		return "IN_FLIGHT"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Result is what a successfully resolved Request produces (spec §4.I).
type Result struct {
	Payload    []byte
	Quality    quality.Annotation
	SourceKind quality.SourceKind
}

// Request is the Public Request API Request (spec §3).
type Request struct {
	DataType     string
	ProviderHint string
	Symbol       string
	Parameters   map[string]string
	Priority     degrade.Priority
	AllowCache   bool
	Deadline     time.Time

	OnSuccess func(Result)
	OnError   func(error)
}

// ProviderCaller is the pluggable per-provider adapter (spec §6: "Provider
// adapter interface"). parse/normalize is the adapter's own concern; the
// Governor only needs the raw call.
type ProviderCaller interface {
	Call(ctx context.Context, providerID string, req Request) ([]byte, error)
}

// CacheKey builds the canonical Cache Store key for a live (non-historical)
// request, combining data_type/provider/symbol/parameters deterministically.
func CacheKey(dataType, provider, symbol string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(dataType)
	b.WriteByte(':')
	b.WriteString(provider)
	b.WriteByte(':')
	b.WriteString(symbol)
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(':')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(params[k])
		}
	}
	return b.String()
}

type queueItem struct {
	id          string
	req         Request
	plan        degrade.Plan
	stepIdx     int
	scheduledAt time.Time
	seq         uint64
	state       State
	attempts    int
	cancelled   bool
	index       int // heap index, maintained by container/heap
}

// pqueue implements a total order of (priority, scheduled_time, insertion
// sequence), per spec §9's re-architecture note calling for an explicit
// comparator rather than an implicit FIFO-per-priority-bucket.
type pqueue []*queueItem

func (q pqueue) Len() int { return len(q) }
func (q pqueue) Less(i, j int) bool {
	if q[i].req.Priority != q[j].req.Priority {
		return q[i].req.Priority < q[j].req.Priority
	}
	if !q[i].scheduledAt.Equal(q[j].scheduledAt) {
		return q[i].scheduledAt.Before(q[j].scheduledAt)
	}
	return q[i].seq < q[j].seq
}
func (q pqueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *pqueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *pqueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// Config configures a Governor.
type Config struct {
	MaxRetries        int
	RetryDelayBase    time.Duration
	BackoffMultiplier float64
	// EmergencyCriticalSymbols are served even in emergency mode regardless
	// of priority (spec §6 configuration option emergency_critical_symbols).
	EmergencyCriticalSymbols []string
	ShutdownGracePeriod      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelayBase <= 0 {
		c.RetryDelayBase = 500 * time.Millisecond
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.ShutdownGracePeriod <= 0 {
		c.ShutdownGracePeriod = 10 * time.Second
	}
	return c
}

// Governor is the Request Governor.
type Governor struct {
	reg      *registry.Registry
	tracker  *quota.Tracker
	cache    *cachestore.Store
	pol      *policy.Engine
	caller   ProviderCaller
	clk      clock.Clock
	cfg      Config

	mu      sync.Mutex
	pq      pqueue
	pending map[string]*queueItem
	nextID  atomic.Uint64

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker[[]byte]

	emergencyMu         sync.Mutex
	emergency           bool
	criticalSymbols     map[string]bool
	deniedDailyProviders map[string]bool

	wake chan struct{}
}

// New constructs a Governor. cache and pol may be nil for a governor used
// only to test dispatch semantics without persistence.
func New(reg *registry.Registry, tracker *quota.Tracker, cache *cachestore.Store, pol *policy.Engine, caller ProviderCaller, clk clock.Clock, cfg Config) *Governor {
	if clk == nil {
		clk = clock.NewReal()
	}
	critical := make(map[string]bool, len(cfg.EmergencyCriticalSymbols))
	for _, s := range cfg.EmergencyCriticalSymbols {
		critical[s] = true
	}
	return &Governor{
		reg:                  reg,
		tracker:              tracker,
		cache:                cache,
		pol:                  pol,
		caller:               caller,
		clk:                  clk,
		cfg:                  cfg.withDefaults(),
		pending:              make(map[string]*queueItem),
		breakers:             make(map[string]*gobreaker.CircuitBreaker[[]byte]),
		criticalSymbols:      critical,
		deniedDailyProviders: make(map[string]bool),
		wake:                 make(chan struct{}, 1),
	}
}

func (g *Governor) breakerFor(providerID string) *gobreaker.CircuitBreaker[[]byte] {
	g.breakersMu.Lock()
	defer g.breakersMu.Unlock()
	if cb, ok := g.breakers[providerID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        providerID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("provider circuit breaker transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	g.breakers[providerID] = cb
	return cb
}

// shouldServeInEmergency reports whether req may be admitted while
// emergency mode is active: priority must be HIGH or better, or the
// symbol is explicitly configured as critical.
func (g *Governor) shouldServeInEmergency(req Request) bool {
	if req.Priority <= degrade.High {
		return true
	}
	return g.criticalSymbols[req.Symbol]
}

// IsEmergency reports whether emergency mode is currently active.
func (g *Governor) IsEmergency() bool {
	g.emergencyMu.Lock()
	defer g.emergencyMu.Unlock()
	return g.emergency
}

// SetEmergency forces emergency mode on or off explicitly (spec §4.F:
// "exited ... or on explicit call").
func (g *Governor) SetEmergency(on bool) {
	g.emergencyMu.Lock()
	defer g.emergencyMu.Unlock()
	g.emergency = on
	if !on {
		g.deniedDailyProviders = make(map[string]bool)
	}
	metrics.GovernorEmergencyMode.Set(boolToFloat(on))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// noteDailyDenied tracks per-provider DENIED_DAILY observations and enters
// emergency mode automatically once 2 or more providers are simultaneously
// denied (spec §4.F).
func (g *Governor) noteDailyDenied(providerID string, denied bool) {
	g.emergencyMu.Lock()
	defer g.emergencyMu.Unlock()
	if denied {
		g.deniedDailyProviders[providerID] = true
	} else {
		delete(g.deniedDailyProviders, providerID)
		// A provider dropping back below 80% utilization on reset is an
		// exit condition, handled by the caller invoking SetEmergency via
		// checkEmergencyExit once stats are refreshed.
	}
	if len(g.deniedDailyProviders) >= 2 {
		if !g.emergency {
			logging.Warn().Int("denied_providers", len(g.deniedDailyProviders)).Msg("entering emergency mode")
		}
		g.emergency = true
		metrics.GovernorEmergencyMode.Set(1)
	}
}

// checkEmergencyExit exits emergency mode if any tracked provider has
// fallen back below 80% daily utilization.
func (g *Governor) checkEmergencyExit() {
	g.emergencyMu.Lock()
	if !g.emergency {
		g.emergencyMu.Unlock()
		return
	}
	g.emergencyMu.Unlock()

	for _, d := range g.reg.All() {
		if g.tracker.Stats(d.ID).UtilizationPct < 80.0 {
			g.SetEmergency(false)
			logging.Info().Str("provider", d.ID).Msg("exiting emergency mode")
			return
		}
	}
}

// ConservationStrategies returns ranked suggestions for reducing API call
// volume, grounded in ApiLimitHandler.h's ConservationStrategy /
// getRecommendedConservationStrategies.
type ConservationStrategy struct {
	Name            string
	Description     string
	ExpectedSavings float64
	Priority        int
}

func (g *Governor) ConservationStrategies() []ConservationStrategy {
	strategies := []ConservationStrategy{
		{Name: "increase_cache_ttl", Description: "Extend cache TTLs for non-critical data types", ExpectedSavings: 0.30, Priority: 1},
		{Name: "batch_symbol_requests", Description: "Coalesce same-endpoint requests across symbols", ExpectedSavings: 0.20, Priority: 2},
		{Name: "defer_background_priority", Description: "Delay BACKGROUND/LOW priority requests to off-peak windows", ExpectedSavings: 0.15, Priority: 3},
		{Name: "reduce_polling_frequency", Description: "Lower polling frequency for slow-moving data types", ExpectedSavings: 0.25, Priority: 2},
	}
	sort.SliceStable(strategies, func(i, j int) bool { return strategies[i].Priority < strategies[j].Priority })
	return strategies
}

// IsOffPeak reports whether t falls in the conventional low-traffic window
// (00:00-06:00 UTC), grounded in ApiLimitHandler.h's isOffPeakTime (the
// original's concrete thresholds were not present in the retrieved
// source, so a standard off-peak window is used; see DESIGN.md).
func IsOffPeak(t time.Time) bool {
	h := t.UTC().Hour()
	return h >= 0 && h < 6
}

// Submit assigns a request_id, executes the plan's cache step inline, and
// either resolves immediately or enqueues the remaining steps for the
// worker loop. Per spec §4.F it never blocks on network I/O.
func (g *Governor) Submit(req Request) string {
	id := fmt.Sprintf("req-%d", g.nextID.Add(1))
	now := g.clk.Now()

	if !req.Deadline.IsZero() && !now.Before(req.Deadline) {
		g.fail(req, coreerr.New(coreerr.KindTimeout, fmt.Errorf("deadline already passed")))
		return id
	}

	if req.AllowCache && g.cache != nil {
		if res, ok := g.cacheLookup(req); ok {
			if req.OnSuccess != nil {
				req.OnSuccess(res)
			}
			return id
		}
	}

	if g.IsEmergency() && !g.shouldServeInEmergency(req) {
		g.fail(req, coreerr.New(coreerr.KindEmergencyDenied, fmt.Errorf("request denied under emergency mode")))
		return id
	}

	gs := g.snapshotState(req)
	plan := degrade.Plan(degrade.Request{
		DataType:     req.DataType,
		ProviderHint: req.ProviderHint,
		AllowCache:   false, // cache step already attempted inline above
		Priority:     req.Priority,
	}, gs)

	if len(plan) == 0 {
		g.fail(req, coreerr.New(coreerr.KindQuotaExhausted, fmt.Errorf("no fallback step available")))
		return id
	}

	item := &queueItem{id: id, req: req, plan: plan, scheduledAt: now, state: StateQueued}

	g.mu.Lock()
	item.seq = g.nextID.Add(1)
	g.pending[id] = item
	heap.Push(&g.pq, item)
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
	return id
}

func (g *Governor) cacheLookup(req Request) (Result, bool) {
	key := CacheKey(req.DataType, req.ProviderHint, req.Symbol, req.Parameters)
	e, ok, err := g.cache.Get(context.Background(), key)
	if err != nil || !ok {
		return Result{}, false
	}
	pol := policy.Policy{}
	if g.pol != nil {
		pol = g.pol.PolicyFor(req.DataType)
	}
	age := g.clk.Now().Sub(e.CachedAt)
	q := quality.Score(quality.Cache, age, pol.DefaultTTL, g.clk.Now())
	floor := 0.3
	if g.IsEmergency() {
		floor = 0
	}
	if q.Freshness < floor {
		return Result{}, false
	}
	metrics.DegradationStepUsed.WithLabelValues(degrade.StepCache.String()).Inc()
	metrics.QualityOverall.WithLabelValues(quality.Cache.String()).Observe(q.Overall())
	return Result{Payload: e.Blob, Quality: q, SourceKind: quality.Cache}, true
}

func (g *Governor) snapshotState(req Request) degrade.GovernorState {
	gs := degrade.GovernorState{EmergencyMode: g.IsEmergency()}

	if req.ProviderHint != "" {
		v := g.tracker.MayRequest(req.ProviderHint)
		gs.PrimaryAvailable = v.Decision == quota.Allowed || v.Decision == quota.Wait
	}

	for _, alt := range g.reg.AlternativesFor(req.ProviderHint) {
		v := g.tracker.MayRequest(alt.ID)
		gs.Alternatives = append(gs.Alternatives, degrade.AlternativeProvider{
			ProviderID: alt.ID,
			Available:  v.Decision == quota.Allowed || v.Decision == quota.Wait,
		})
	}

	if g.cache != nil {
		// executeStaticStep reads the exact same key; a hit here is a
		// promise that the static fallback step will actually find
		// something, not just an optimistic guess.
		key := CacheKey(req.DataType, req.ProviderHint, req.Symbol, req.Parameters)
		if _, ok, err := g.cache.Get(context.Background(), key); err == nil && ok {
			gs.StaticFallbackAvailable = true
		}

		if degrade.IsPriceLike(req.DataType) && req.Symbol != "" {
			if n, err := g.cache.CountByTypeAndSymbol(context.Background(), req.DataType, req.Symbol); err == nil && n >= 2 {
				gs.InterpolationEligible = true
			}
		}
	}

	return gs
}

func (g *Governor) fail(req Request, err error) {
	if req.OnError != nil {
		req.OnError(err)
	}
}

// Tracker exposes the underlying Quota Tracker for read-only stats
// reporting (spec §6 stats() surface).
func (g *Governor) Tracker() *quota.Tracker {
	return g.tracker
}

// Cancel removes a not-yet-in-flight request from the queue (best-effort,
// spec §5: "a request not yet in flight is removed from the queue and
// fails with CANCELLED; a request in flight runs to completion but its
// callbacks are suppressed").
func (g *Governor) Cancel(id string) bool {
	g.mu.Lock()
	item, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return false
	}
	if item.state == StateInFlight {
		item.cancelled = true // suppress callbacks only; let it run to completion
		g.mu.Unlock()
		return true
	}
	item.cancelled = true
	if item.index >= 0 {
		heap.Remove(&g.pq, item.index)
	}
	delete(g.pending, id)
	g.mu.Unlock()

	g.fail(item.req, coreerr.New(coreerr.KindCancelled, fmt.Errorf("request cancelled")))
	return true
}

// Status returns the current state of a known request.
func (g *Governor) Status(id string) (State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	item, ok := g.pending[id]
	if !ok {
		return StateDone, false
	}
	return item.state, true
}

// Run is the suture.Service entrypoint: it drives the dispatch loop until
// ctx is cancelled, then drains remaining queued work up to the configured
// grace period.
func (g *Governor) Run(ctx context.Context) error {
	ticker := g.clk.After(50 * time.Millisecond)
	for {
		select {
		case <-ctx.Done():
			return g.drain()
		case <-g.wake:
			g.dispatchReady(ctx)
		case <-ticker:
			g.dispatchReady(ctx)
			ticker = g.clk.After(50 * time.Millisecond)
		}
	}
}

func (g *Governor) drain() error {
	deadline := g.clk.Now().Add(g.cfg.ShutdownGracePeriod)
	for g.clk.Now().Before(deadline) {
		g.mu.Lock()
		remaining := g.pq.Len()
		g.mu.Unlock()
		if remaining == 0 {
			return nil
		}
		g.dispatchReady(context.Background())
	}
	g.mu.Lock()
	leftover := make([]*queueItem, len(g.pq))
	copy(leftover, g.pq)
	g.pq = nil
	g.mu.Unlock()
	for _, item := range leftover {
		g.fail(item.req, coreerr.New(coreerr.KindCancelled, fmt.Errorf("shutdown grace period exceeded")))
	}
	return nil
}

// dispatchReady pops every currently-ready item and advances it one step.
func (g *Governor) dispatchReady(ctx context.Context) {
	for {
		item := g.popReady()
		if item == nil {
			return
		}
		g.advance(ctx, item)
	}
}

// popReady pops the highest-priority item whose next step is ready to
// execute (quota-allowed provider step, or any non-network step), per
// spec §4.F worker loop step 1.
func (g *Governor) popReady() *queueItem {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clk.Now()
	var deferred []*queueItem
	var ready *queueItem

	for g.pq.Len() > 0 {
		item := heap.Pop(&g.pq).(*queueItem)
		if item.cancelled {
			delete(g.pending, item.id)
			continue
		}
		if !item.req.Deadline.IsZero() && !now.Before(item.req.Deadline) {
			delete(g.pending, item.id)
			go g.fail(item.req, coreerr.New(coreerr.KindTimeout, fmt.Errorf("deadline exceeded while queued")))
			continue
		}
		if g.stepReady(item, now) {
			ready = item
			break
		}
		deferred = append(deferred, item)
	}
	for _, d := range deferred {
		heap.Push(&g.pq, d)
	}
	metrics.GovernorQueueDepth.Set(float64(g.pq.Len()))
	return ready
}

func (g *Governor) stepReady(item *queueItem, now time.Time) bool {
	if now.Before(item.scheduledAt) {
		return false // still waiting out a retry backoff delay
	}
	if item.stepIdx >= len(item.plan) {
		return true // nothing left; advance() will fail it
	}
	step := item.plan[item.stepIdx]
	switch step.Kind {
	case degrade.StepPrimaryProvider, degrade.StepAltProvider:
		v := g.tracker.MayRequest(step.ProviderID)
		return v.Decision == quota.Allowed
	default:
		return true
	}
}

// advance executes the current step (or requeues with a delay if the step
// is a provider call still waiting out its min-interval), then moves the
// item to its next state.
func (g *Governor) advance(ctx context.Context, item *queueItem) {
	if item.stepIdx >= len(item.plan) {
		g.finishFailed(item, coreerr.New(coreerr.KindQuotaExhausted, fmt.Errorf("no remaining fallback steps")))
		return
	}

	step := item.plan[item.stepIdx]
	switch step.Kind {
	case degrade.StepPrimaryProvider, degrade.StepAltProvider:
		g.executeProviderStep(ctx, item, step)
	case degrade.StepInterpolation:
		// Interpolation has no network call in this codebase's scope; a
		// concrete interpolation strategy is supplied by the caller of
		// Submit via ProviderCaller returning a synthesized series when
		// providerID is empty. Treat as a soft miss and advance.
		item.stepIdx++
		g.requeue(item)
	case degrade.StepStaticFallback:
		g.executeStaticStep(item)
	default:
		item.stepIdx++
		g.requeue(item)
	}
}

func (g *Governor) executeProviderStep(ctx context.Context, item *queueItem, step degrade.Step) {
	v := g.tracker.MayRequest(step.ProviderID)
	switch v.Decision {
	case quota.Wait:
		g.requeue(item)
		return
	case quota.DeniedDaily:
		g.noteDailyDenied(step.ProviderID, true)
		item.stepIdx++
		g.requeue(item)
		return
	case quota.DeniedMonthly:
		item.stepIdx++
		g.requeue(item)
		return
	}

	g.mu.Lock()
	item.state = StateInFlight
	g.mu.Unlock()

	cb := g.breakerFor(step.ProviderID)
	payload, err := cb.Execute(func() ([]byte, error) {
		return g.caller.Call(ctx, step.ProviderID, item.req)
	})

	if err != nil {
		item.attempts++
		if item.attempts <= g.cfg.MaxRetries {
			delay := time.Duration(float64(g.cfg.RetryDelayBase) * pow(g.cfg.BackoffMultiplier, item.attempts-1))
			g.scheduleRetry(item, delay)
			return
		}
		item.stepIdx++
		item.attempts = 0
		g.requeue(item)
		return
	}

	g.tracker.Record(step.ProviderID)
	g.noteDailyDenied(step.ProviderID, false)
	g.checkEmergencyExit()

	sourceKind := quality.FreshAPI
	if step.Kind == degrade.StepAltProvider {
		sourceKind = quality.AltProvider
	}
	q := quality.Score(sourceKind, 0, 0, g.clk.Now())
	metrics.DegradationStepUsed.WithLabelValues(step.Kind.String()).Inc()
	metrics.QualityOverall.WithLabelValues(sourceKind.String()).Observe(q.Overall())

	if g.cache != nil && g.pol != nil {
		key := CacheKey(item.req.DataType, step.ProviderID, item.req.Symbol, item.req.Parameters)
		pol := g.pol.PolicyFor(item.req.DataType)
		_ = g.cache.Put(ctx, cachestore.Entry{
			Key: key, Blob: payload, DataType: item.req.DataType, Provider: step.ProviderID,
			Symbol: item.req.Symbol, ExpiresAt: g.clk.Now().Add(pol.DefaultTTL),
		})
	}

	g.finishDone(item, Result{Payload: payload, Quality: q, SourceKind: sourceKind})
}

func (g *Governor) executeStaticStep(item *queueItem) {
	key := CacheKey(item.req.DataType, item.req.ProviderHint, item.req.Symbol, item.req.Parameters)
	var payload []byte
	if g.cache != nil {
		if e, ok, _ := g.cache.Get(context.Background(), key); ok {
			payload = e.Blob
		}
	}
	if payload == nil {
		g.finishFailed(item, coreerr.New(coreerr.KindQuotaExhausted, fmt.Errorf("no static fallback value available")))
		return
	}
	q := quality.Score(quality.Static, 0, 0, g.clk.Now())
	metrics.DegradationStepUsed.WithLabelValues(degrade.StepStaticFallback.String()).Inc()
	metrics.QualityOverall.WithLabelValues(quality.Static.String()).Observe(q.Overall())
	g.finishDone(item, Result{Payload: payload, Quality: q, SourceKind: quality.Static})
}

func (g *Governor) scheduleRetry(item *queueItem, delay time.Duration) {
	item.scheduledAt = g.clk.Now().Add(delay)
	if item.stepIdx < len(item.plan) {
		metrics.GovernorRetries.WithLabelValues(item.plan[item.stepIdx].ProviderID).Inc()
	}
	g.requeue(item)
}

func (g *Governor) requeue(item *queueItem) {
	g.mu.Lock()
	item.state = StateReady
	heap.Push(&g.pq, item)
	g.mu.Unlock()
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *Governor) finishDone(item *queueItem, res Result) {
	g.mu.Lock()
	item.state = StateDone
	delete(g.pending, item.id)
	cancelled := item.cancelled
	g.mu.Unlock()
	metrics.GovernorRequestsTotal.WithLabelValues("done").Inc()
	if cancelled {
		return
	}
	if item.req.OnSuccess != nil {
		item.req.OnSuccess(res)
	}
}

func (g *Governor) finishFailed(item *queueItem, err error) {
	g.mu.Lock()
	item.state = StateFailed
	delete(g.pending, item.id)
	cancelled := item.cancelled
	g.mu.Unlock()
	metrics.GovernorRequestsTotal.WithLabelValues("failed").Inc()
	if cancelled {
		return
	}
	g.fail(item.req, err)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
