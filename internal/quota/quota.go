// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package quota implements the Quota Tracker: per-provider daily/monthly
// request counters, minimum inter-request spacing, and the admission
// predicate the Request Governor consults before dispatching a provider
// call. Grounded in the teacher's sliding-window counter style
// (internal/cache/sliding_window.go) but reshaped into an exact bounded
// ring rather than a bucket approximation, since the spec's invariants
// (§8.1) require an exact daily_used count.
package quota

import (
	"sync"
	"time"

	"github.com/feedcore/ingestd/internal/clock"
	"github.com/feedcore/ingestd/internal/metrics"
	"github.com/feedcore/ingestd/internal/registry"
)

// Decision is the result of may_request.
type Decision int

const (
	// Allowed means the call may be dispatched now.
	Allowed Decision = iota
	// Wait means the call must wait out the remaining min-interval gate.
	Wait
	// DeniedDaily means the provider's daily cap is exhausted.
	DeniedDaily
	// DeniedMonthly means the provider's monthly cap is exhausted.
	DeniedMonthly
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "ALLOWED"
	case Wait:
		return "WAIT"
	case DeniedDaily:
		return "DENIED_DAILY"
	case DeniedMonthly:
		return "DENIED_MONTHLY"
	default:
		return "UNKNOWN"
	}
}

// Verdict is the full return value of MayRequest.
type Verdict struct {
	Decision Decision
	// WaitHint is populated only when Decision == Wait.
	WaitHint time.Duration
}

// Stats is the read-only snapshot returned by Stats().
type Stats struct {
	DailyUsed          int
	DailyRemaining     int
	MonthlyUsed        int
	MonthlyRemaining   int
	UtilizationPct     float64
	NextDailyReset     time.Time
	NextMonthlyReset   time.Time
}

// state is the mutable per-provider Quota State (spec §3). recentRing is
// bounded by capacity (daily cap), not only by 24h age, per §9's open
// question: "an implementer should cap the ring by capacity, not only by
// age."
type state struct {
	mu sync.Mutex

	dailyUsed     int
	monthlyUsed   int
	dayResetAt    time.Time
	monthResetAt  time.Time
	lastRequestAt time.Time

	recentRing []time.Time // ring buffer of recent request timestamps, bounded by dailyCap
	ringHead   int
	ringFull   bool
}

// AlertSink receives notifications whenever a provider crosses an
// approaching/exceeded/reset utilization threshold, grounded in
// ApiLimitHandler.h's LimitAlert / setAlertCallback.
type AlertSink interface {
	Alert(a Alert)
}

// Alert is a single notification emitted by the Tracker.
type Alert struct {
	Provider        string
	Kind            string // "approaching", "exceeded_daily", "exceeded_monthly", "reset"
	Message         string
	UtilizationPct  float64
	At              time.Time
}

// LogAlertSink is the default AlertSink: logs and keeps a bounded ring
// buffer of recent alerts queryable via stats().
type LogAlertSink struct {
	mu      sync.Mutex
	ring    []Alert
	cap     int
	nextIdx int
	count   int
}

// NewLogAlertSink returns an AlertSink that keeps the most recent capacity
// alerts in memory.
func NewLogAlertSink(capacity int) *LogAlertSink {
	if capacity <= 0 {
		capacity = 100
	}
	return &LogAlertSink{ring: make([]Alert, capacity), cap: capacity}
}

// Alert implements AlertSink.
func (s *LogAlertSink) Alert(a Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.nextIdx] = a
	s.nextIdx = (s.nextIdx + 1) % s.cap
	if s.count < s.cap {
		s.count++
	}
}

// Recent returns the most recent alerts, newest first.
func (s *LogAlertSink) Recent() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, 0, s.count)
	idx := s.nextIdx
	for i := 0; i < s.count; i++ {
		idx = (idx - 1 + s.cap) % s.cap
		out = append(out, s.ring[idx])
	}
	return out
}

const (
	approachingThresholdPct = 80.0
)

// Tracker owns one state per provider. A single Tracker instance is
// constructed explicitly and passed to the Governor, per the spec's §9
// re-architecture note against global singletons.
type Tracker struct {
	reg   *registry.Registry
	clock clock.Clock
	sink  AlertSink

	mu     sync.Mutex
	states map[string]*state
}

// New constructs a Tracker bound to the given registry. sink may be nil, in
// which case alerts are dropped.
func New(reg *registry.Registry, clk clock.Clock, sink AlertSink) *Tracker {
	if sink == nil {
		sink = noopSink{}
	}
	return &Tracker{reg: reg, clock: clk, sink: sink, states: make(map[string]*state)}
}

type noopSink struct{}

func (noopSink) Alert(Alert) {}

func (t *Tracker) stateFor(providerID string) *state {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[providerID]
	if !ok {
		now := t.clock.Now()
		desc, err := t.reg.Get(providerID)
		cap := 1
		if err == nil {
			cap = desc.DailyCap
		}
		s = &state{
			dayResetAt:   now.Add(24 * time.Hour),
			monthResetAt: now.Add(30 * 24 * time.Hour),
			recentRing:   make([]time.Time, maxInt(cap, 1)),
		}
		t.states[providerID] = s
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// rolloverLocked resets daily/monthly counters if their reset time has
// passed. Reset times always shift by exactly 24h/30d from the *previous*
// reset time, never from now, bounding drift (spec §4.B edge case).
func (s *state) rolloverLocked(now time.Time) {
	for !now.Before(s.dayResetAt) {
		s.dailyUsed = 0
		s.dayResetAt = s.dayResetAt.Add(24 * time.Hour)
		s.ringHead = 0
		s.ringFull = false
	}
	for !now.Before(s.monthResetAt) {
		s.monthlyUsed = 0
		s.monthResetAt = s.monthResetAt.Add(30 * 24 * time.Hour)
	}
}

// Record appends now to the recent-timestamps ring, increments
// daily_used/monthly_used, and advances last_request_at. Must be called
// under the Governor's per-provider serialization.
func (t *Tracker) Record(providerID string) {
	s := t.stateFor(providerID)
	now := t.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rolloverLocked(now)

	s.recentRing[s.ringHead] = now
	s.ringHead = (s.ringHead + 1) % len(s.recentRing)
	if s.ringHead == 0 {
		s.ringFull = true
	}

	s.dailyUsed++
	s.monthlyUsed++
	s.lastRequestAt = now

	desc, err := t.reg.Get(providerID)
	if err != nil {
		return
	}
	util := 100 * float64(s.dailyUsed) / float64(desc.DailyCap)
	if util >= 100 {
		t.sink.Alert(Alert{Provider: providerID, Kind: "exceeded_daily", Message: "daily cap exhausted", UtilizationPct: util, At: now})
	} else if util >= approachingThresholdPct {
		t.sink.Alert(Alert{Provider: providerID, Kind: "approaching", Message: "approaching daily cap", UtilizationPct: util, At: now})
	}

	metrics.QuotaDailyUsed.WithLabelValues(providerID).Set(float64(s.dailyUsed))
	metrics.QuotaMonthlyUsed.WithLabelValues(providerID).Set(float64(s.monthlyUsed))
}

// MayRequest is a pure read against the current state: ALLOWED iff
// remaining_daily > 0 && remaining_monthly > 0 && (now - last_request_at) >=
// min_interval. If the interval gate is the only failure, returns
// Wait(min_interval - elapsed). Cap exhaustion returns the corresponding
// Denied verdict, checked before the interval gate.
func (t *Tracker) MayRequest(providerID string) Verdict {
	desc, err := t.reg.Get(providerID)
	if err != nil {
		return Verdict{Decision: DeniedDaily}
	}

	s := t.stateFor(providerID)
	now := t.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(now)

	if s.dailyUsed >= desc.DailyCap {
		metrics.QuotaDenials.WithLabelValues(providerID, "denied_daily").Inc()
		return Verdict{Decision: DeniedDaily}
	}
	if s.monthlyUsed >= desc.MonthlyCap {
		metrics.QuotaDenials.WithLabelValues(providerID, "denied_monthly").Inc()
		return Verdict{Decision: DeniedMonthly}
	}

	if s.lastRequestAt.IsZero() {
		return Verdict{Decision: Allowed}
	}
	elapsed := now.Sub(s.lastRequestAt)
	if elapsed < desc.MinInterval {
		return Verdict{Decision: Wait, WaitHint: desc.MinInterval - elapsed}
	}
	return Verdict{Decision: Allowed}
}

// Stats returns a read-only snapshot for the /stats surface.
func (t *Tracker) Stats(providerID string) Stats {
	desc, _ := t.reg.Get(providerID)
	s := t.stateFor(providerID)
	now := t.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(now)

	dailyRemaining := desc.DailyCap - s.dailyUsed
	monthlyRemaining := desc.MonthlyCap - s.monthlyUsed
	util := 0.0
	if desc.DailyCap > 0 {
		util = 100 * float64(s.dailyUsed) / float64(desc.DailyCap)
	}
	return Stats{
		DailyUsed:        s.dailyUsed,
		DailyRemaining:   dailyRemaining,
		MonthlyUsed:      s.monthlyUsed,
		MonthlyRemaining: monthlyRemaining,
		UtilizationPct:   util,
		NextDailyReset:   s.dayResetAt,
		NextMonthlyReset: s.monthResetAt,
	}
}

// RecentTimestampCount returns how many timestamps are currently held in
// the bounded ring, for tests/diagnostics.
func (t *Tracker) RecentTimestampCount(providerID string) int {
	s := t.stateFor(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ringFull {
		return len(s.recentRing)
	}
	return s.ringHead
}
