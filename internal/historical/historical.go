// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package historical implements the Historical Range Loader (spec §4.G): a
// specialized consumer of the Request Governor that splits a wide date
// range into chunks, submits each as a MEDIUM-priority request, and tracks
// completion. WarmupPlan builds on the same loader to pre-load a trailing
// window for a symbol/provider/timeframe ahead of live demand.
//
// Grounded in original_source/SmartCacheManager.h's WarmupStrategy (a
// scheduled bulk-load plan over a symbol set) and the teacher's
// long-running background-job bookkeeping style seen in
// internal/sync/sync_orchestrator.go (progress counters, pause/resume,
// status snapshots).
package historical

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/feedcore/ingestd/internal/cachestore"
	"github.com/feedcore/ingestd/internal/clock"
	"github.com/feedcore/ingestd/internal/coreerr"
	"github.com/feedcore/ingestd/internal/degrade"
	"github.com/feedcore/ingestd/internal/governor"
	"github.com/feedcore/ingestd/internal/logging"
	"github.com/feedcore/ingestd/internal/metrics"
)

// defaultChunkSpan is the default chunk width (spec §4.G: "chunks of
// default span 30 days (configurable)").
const defaultChunkSpan = 30 * 24 * time.Hour

// maxChunkFailures is how many times a chunk may fail before it is
// skipped and counted in Progress.Failed (spec §4.G).
const maxChunkFailures = 3

// completenessFloor is the threshold below which a landed chunk is marked
// invalid and re-queued once (spec §4.G).
const completenessFloor = 0.60

// defaultWarmupLookback is how far back a WarmupPlan with no explicit
// Lookback reaches from "now".
const defaultWarmupLookback = 30 * 24 * time.Hour

// WarmupPlan pre-loads a trailing period ending now for a single
// symbol/provider/timeframe combination, so the Smart Cache already holds
// data before live traffic needs it. It supplements the chunked loader of
// spec §4.G with original_source/SmartCacheManager.h's WarmupStrategy (a
// scheduled bulk-load ahead of demand), reusing the same Range/Load
// machinery rather than a parallel code path.
type WarmupPlan struct {
	Symbol    string
	Provider  string
	Timeframe string
	// Lookback is how far back from now the warmup range extends; defaults
	// to defaultWarmupLookback when zero.
	Lookback  time.Duration
	ChunkSpan time.Duration
}

// Warmup submits plan as a historical Load for the trailing window ending
// now and returns its loading_id, so callers track it the same way as any
// other range load (Status/Pause/Resume/Cancel all apply).
func (l *Loader) Warmup(plan WarmupPlan) string {
	lookback := plan.Lookback
	if lookback <= 0 {
		lookback = defaultWarmupLookback
	}
	end := l.clk.Now()
	return l.Load(Range{
		Symbol:    plan.Symbol,
		Provider:  plan.Provider,
		Timeframe: plan.Timeframe,
		Start:     end.Add(-lookback),
		End:       end,
		ChunkSpan: plan.ChunkSpan,
	})
}

// Range is the Historical Range (spec §3).
type Range struct {
	Symbol    string
	Provider  string
	Timeframe string
	Start     time.Time
	End       time.Time
	ChunkSpan time.Duration
}

func (r Range) chunks() []chunkSpan {
	span := r.ChunkSpan
	if span <= 0 {
		span = defaultChunkSpan
	}
	var out []chunkSpan
	for start := r.Start; start.Before(r.End); start = start.Add(span) {
		end := start.Add(span)
		if end.After(r.End) {
			end = r.End
		}
		out = append(out, chunkSpan{start: start, end: end})
	}
	return out
}

type chunkSpan struct {
	start, end time.Time
}

// Status is the Loader's overall state for a load.
type Status string

const (
	StatusRunning            Status = "running"
	StatusPaused             Status = "paused"
	StatusCancelled          Status = "cancelled"
	StatusCompleted          Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
)

// Progress is the progress snapshot (spec §4.G).
type Progress struct {
	Status       Status
	TotalChunks  int
	Completed    int
	Failed       int
	Bytes        int64
	ETA          time.Duration
}

// ExpectedPointsFunc computes expected_points_for(timeframe, span), used to
// validate a landed chunk's completeness.
type ExpectedPointsFunc func(timeframe string, span time.Duration) int

// ObservedPointsFunc reports how many data points a just-fetched chunk
// payload actually contains, decoupling completeness validation from any
// specific wire format (parsing is the provider adapter's concern).
type ObservedPointsFunc func(payload []byte) int

type loadJob struct {
	mu        sync.Mutex
	id        string
	rng       Range
	chunks    []chunkSpan
	completed map[int]bool
	payloads  map[int][]byte // chunk index -> landed payload, kept until the full range lands
	failed    map[int]int    // chunk index -> failure count
	invalid   map[int]bool
	status    Status
	bytes     int64
	paused    bool
	startedAt time.Time
}

// Loader is the Historical Range Loader.
type Loader struct {
	gov       *governor.Governor
	cache     *cachestore.Store
	clk       clock.Clock
	expected  ExpectedPointsFunc
	observed  ObservedPointsFunc

	mu     sync.Mutex
	jobs   map[string]*loadJob
	nextID uint64
}

// New constructs a Loader. expected/observed may be nil, in which case
// completeness validation is skipped (every landed chunk is accepted).
func New(gov *governor.Governor, cache *cachestore.Store, clk clock.Clock, expected ExpectedPointsFunc, observed ObservedPointsFunc) *Loader {
	if clk == nil {
		clk = clock.NewReal()
	}
	return &Loader{gov: gov, cache: cache, clk: clk, expected: expected, observed: observed, jobs: make(map[string]*loadJob)}
}

// Load splits rng into chunks, reordered for provider affinity (consecutive
// same-provider chunks stay adjacent; since a single Range always shares
// one provider/symbol, affinity is naturally preserved here and chunks are
// only ever reordered across distinct Load calls, which this Loader keeps
// independent per spec §4.G), and submits each chunk as a MEDIUM-priority
// Governor request.
func (l *Loader) Load(rng Range) string {
	l.mu.Lock()
	l.nextID++
	id := fmt.Sprintf("load-%d", l.nextID)
	l.mu.Unlock()

	chunks := rng.chunks()
	job := &loadJob{
		id:        id,
		rng:       rng,
		chunks:    chunks,
		completed: make(map[int]bool),
		payloads:  make(map[int][]byte),
		failed:    make(map[int]int),
		invalid:   make(map[int]bool),
		status:    StatusRunning,
		startedAt: l.clk.Now(),
	}

	l.mu.Lock()
	l.jobs[id] = job
	l.mu.Unlock()

	for idx := range chunks {
		l.submitChunk(job, idx)
	}
	return id
}

func (l *Loader) submitChunk(job *loadJob, idx int) {
	job.mu.Lock()
	if job.status == StatusPaused || job.status == StatusCancelled {
		job.mu.Unlock()
		return
	}
	ch := job.chunks[idx]
	job.mu.Unlock()

	l.gov.Submit(governor.Request{
		DataType:     "historical",
		ProviderHint: job.rng.Provider,
		Symbol:       job.rng.Symbol,
		Parameters:   map[string]string{"timeframe": job.rng.Timeframe, "start": ch.start.Format(time.RFC3339), "end": ch.end.Format(time.RFC3339)},
		Priority:     degrade.Medium,
		AllowCache:   true,
		OnSuccess:    func(res governor.Result) { l.onChunkSuccess(job, idx, ch, res) },
		OnError:      func(err error) { l.onChunkFailure(job, idx, ch, err) },
	})
}

func (l *Loader) onChunkSuccess(job *loadJob, idx int, ch chunkSpan, res governor.Result) {
	if l.expected != nil && l.observed != nil {
		exp := l.expected(job.rng.Timeframe, ch.end.Sub(ch.start))
		obs := l.observed(res.Payload)
		if exp > 0 && float64(obs)/float64(exp) < completenessFloor {
			job.mu.Lock()
			already := job.invalid[idx]
			job.invalid[idx] = true
			job.mu.Unlock()
			if !already {
				logging.Warn().Str("load_id", job.id).Int("chunk", idx).Msg("chunk below completeness floor, re-queuing once")
				l.submitChunk(job, idx)
				return
			}
			// Already re-queued once; accept as-is rather than loop forever.
		}
	}

	if l.cache != nil {
		_ = l.cache.PutHistorical(context.Background(), job.rng.Symbol, job.rng.Provider, job.rng.Timeframe, res.Payload, ch.start, ch.end)
	}

	job.mu.Lock()
	job.completed[idx] = true
	job.payloads[idx] = res.Payload
	job.bytes += int64(len(res.Payload))
	finished := l.maybeFinishLocked(job)
	progress := float64(len(job.completed)) / float64(len(job.chunks))
	job.mu.Unlock()

	metrics.HistoricalChunksTotal.WithLabelValues("completed").Inc()
	metrics.HistoricalLoadProgress.WithLabelValues(job.id).Set(progress)

	if finished {
		l.persistFullRange(job)
	}
}

func (l *Loader) onChunkFailure(job *loadJob, idx int, ch chunkSpan, err error) {
	job.mu.Lock()
	job.failed[idx]++
	attempts := job.failed[idx]
	job.mu.Unlock()

	if attempts < maxChunkFailures {
		logging.Warn().Str("load_id", job.id).Int("chunk", idx).Err(err).Msg("historical chunk failed, retrying")
		l.submitChunk(job, idx)
		return
	}

	logging.Warn().Str("load_id", job.id).Int("chunk", idx).Msg("historical chunk exceeded max failures, skipping")
	job.mu.Lock()
	job.completed[idx] = true // counted as "accounted for", distinct from success
	finished := l.maybeFinishLocked(job)
	job.mu.Unlock()

	metrics.HistoricalChunksTotal.WithLabelValues("failed").Inc()

	if finished {
		l.persistFullRange(job)
	}
}

// maybeFinishLocked must be called with job.mu held. It returns true the one
// time the job transitions into a terminal completed state, so the caller
// can persist the full-range cache entry outside the lock.
func (l *Loader) maybeFinishLocked(job *loadJob) bool {
	if len(job.completed) < len(job.chunks) {
		return false
	}
	if job.status == StatusCancelled || job.status == StatusCompleted || job.status == StatusCompletedWithErrors {
		return false
	}
	failedCount := 0
	for idx := range job.failed {
		if job.failed[idx] >= maxChunkFailures {
			failedCount++
		}
	}
	if failedCount > 0 {
		job.status = StatusCompletedWithErrors
	} else {
		job.status = StatusCompleted
	}
	return true
}

// persistFullRange writes one permanent entry covering the job's entire
// requested range, concatenating landed chunk payloads in order (spec §8.7,
// scenario S4: "has_historical is true for the full range and each
// sub-range"). Per-chunk entries written in onChunkSuccess already satisfy
// the sub-range half; this satisfies the full-range half.
func (l *Loader) persistFullRange(job *loadJob) {
	if l.cache == nil {
		return
	}

	job.mu.Lock()
	var full []byte
	for idx := range job.chunks {
		full = append(full, job.payloads[idx]...)
	}
	symbol, provider, timeframe := job.rng.Symbol, job.rng.Provider, job.rng.Timeframe
	start, end := job.rng.Start, job.rng.End
	job.payloads = nil // landed payloads no longer needed once merged
	job.mu.Unlock()

	if err := l.cache.PutHistorical(context.Background(), symbol, provider, timeframe, full, start, end); err != nil {
		logging.Warn().Str("load_id", job.id).Err(err).Msg("failed to persist full-range historical entry")
	}
}

// Status returns a progress snapshot for loading_id.
func (l *Loader) Status(loadingID string) (Progress, error) {
	l.mu.Lock()
	job, ok := l.jobs[loadingID]
	l.mu.Unlock()
	if !ok {
		return Progress{}, coreerr.New(coreerr.KindInvalidConfig, fmt.Errorf("unknown loading_id %q", loadingID))
	}

	job.mu.Lock()
	defer job.mu.Unlock()

	failedCount := 0
	for idx := range job.failed {
		if job.failed[idx] >= maxChunkFailures {
			failedCount++
		}
	}

	elapsed := l.clk.Now().Sub(job.startedAt)
	var eta time.Duration
	if len(job.completed) > 0 && len(job.completed) < len(job.chunks) {
		perChunk := elapsed / time.Duration(len(job.completed))
		remaining := len(job.chunks) - len(job.completed)
		eta = perChunk * time.Duration(remaining)
	}

	return Progress{
		Status:      job.status,
		TotalChunks: len(job.chunks),
		Completed:   len(job.completed) - failedCount,
		Failed:      failedCount,
		Bytes:       job.bytes,
		ETA:         eta,
	}, nil
}

// Pause prevents further chunk (re)submission; chunks already in flight
// still complete.
func (l *Loader) Pause(loadingID string) error {
	return l.setStatus(loadingID, StatusPaused)
}

// Resume re-submits any chunk not yet completed.
func (l *Loader) Resume(loadingID string) error {
	l.mu.Lock()
	job, ok := l.jobs[loadingID]
	l.mu.Unlock()
	if !ok {
		return coreerr.New(coreerr.KindInvalidConfig, fmt.Errorf("unknown loading_id %q", loadingID))
	}

	job.mu.Lock()
	job.status = StatusRunning
	pending := make([]int, 0)
	for idx := range job.chunks {
		if !job.completed[idx] {
			pending = append(pending, idx)
		}
	}
	job.mu.Unlock()

	sort.Ints(pending)
	for _, idx := range pending {
		l.submitChunk(job, idx)
	}
	return nil
}

// Cancel marks the load cancelled; chunks already submitted to the
// Governor run to completion but their results are discarded.
func (l *Loader) Cancel(loadingID string) error {
	return l.setStatus(loadingID, StatusCancelled)
}

func (l *Loader) setStatus(loadingID string, status Status) error {
	l.mu.Lock()
	job, ok := l.jobs[loadingID]
	l.mu.Unlock()
	if !ok {
		return coreerr.New(coreerr.KindInvalidConfig, fmt.Errorf("unknown loading_id %q", loadingID))
	}
	job.mu.Lock()
	job.status = status
	job.mu.Unlock()
	return nil
}
