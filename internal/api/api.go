// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package api implements the Public Request API (spec §4.I): the single
// consumer-facing surface composing the Request Governor, Cache Store, and
// Historical Range Loader into fetch/submit/cancel/status/fetch_batch plus
// the historical convenience operations and stats snapshot (spec §6).
//
// Grounded in original_source/ApiLimitHandler.h's ApiRequestBuilder fluent
// construction style and the teacher's internal/api request-handling
// layer, generalized from HTTP-handler-bound request construction to a
// library-level builder any caller (HTTP handler, internal job, test) can
// use identically.
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/feedcore/ingestd/internal/cachestore"
	"github.com/feedcore/ingestd/internal/coreerr"
	"github.com/feedcore/ingestd/internal/degrade"
	"github.com/feedcore/ingestd/internal/governor"
	"github.com/feedcore/ingestd/internal/historical"
	"github.com/feedcore/ingestd/internal/quota"
)

// RequestBuilder fluently constructs a governor.Request, grounded in
// ApiLimitHandler.h's ApiRequestBuilder.
type RequestBuilder struct {
	req governor.Request
}

// NewPriceRequest starts a builder for a price lookup.
func NewPriceRequest(provider, symbol string) *RequestBuilder {
	return newRequest("price", provider, symbol)
}

// NewHistoricalRequest starts a builder for a historical chunk lookup.
func NewHistoricalRequest(provider, symbol string) *RequestBuilder {
	return newRequest("historical", provider, symbol)
}

// NewNewsRequest starts a builder for a news lookup.
func NewNewsRequest(provider, symbol string) *RequestBuilder {
	return newRequest("news", provider, symbol)
}

// NewSentimentRequest starts a builder for a sentiment lookup.
func NewSentimentRequest(provider, symbol string) *RequestBuilder {
	return newRequest("sentiment", provider, symbol)
}

func newRequest(dataType, provider, symbol string) *RequestBuilder {
	return &RequestBuilder{req: governor.Request{
		DataType:     dataType,
		ProviderHint: provider,
		Symbol:       symbol,
		Priority:     degrade.Medium,
		AllowCache:   true,
	}}
}

// WithParameter sets a single request parameter.
func (b *RequestBuilder) WithParameter(key, value string) *RequestBuilder {
	if b.req.Parameters == nil {
		b.req.Parameters = make(map[string]string)
	}
	b.req.Parameters[key] = value
	return b
}

// WithPriority overrides the default MEDIUM priority.
func (b *RequestBuilder) WithPriority(p degrade.Priority) *RequestBuilder {
	b.req.Priority = p
	return b
}

// WithDeadline sets the request's deadline.
func (b *RequestBuilder) WithDeadline(d time.Time) *RequestBuilder {
	b.req.Deadline = d
	return b
}

// WithoutCache disables the cache step for this request.
func (b *RequestBuilder) WithoutCache() *RequestBuilder {
	b.req.AllowCache = false
	return b
}

// Build returns the constructed governor.Request.
func (b *RequestBuilder) Build() governor.Request {
	return b.req
}

// Result is the library-facing fetch result.
type Result = governor.Result

// Stats is the full stats() response (spec §6: "stats() → {per_provider:
// QuotaStats, cache: CacheStats}").
type Stats struct {
	PerProvider map[string]quota.Stats
	Cache       []cachestore.TypeStats
}

// API is the Public Request API, the single object a downstream consumer
// depends on.
type API struct {
	gov    *governor.Governor
	cache  *cachestore.Store
	loader *historical.Loader

	providerIDs []string
}

// New constructs the Public Request API over an already-wired Governor,
// Cache Store, and Historical Loader.
func New(gov *governor.Governor, cache *cachestore.Store, loader *historical.Loader, providerIDs []string) *API {
	return &API{gov: gov, cache: cache, loader: loader, providerIDs: providerIDs}
}

// Submit is the asynchronous entry: it assigns a request_id and returns
// immediately (spec §4.I).
func (a *API) Submit(req governor.Request) string {
	return a.gov.Submit(req)
}

// Fetch is the synchronous entry: it composes Submit with a wait bounded
// by the request's deadline (spec §4.I).
func (a *API) Fetch(ctx context.Context, req governor.Request) (Result, error) {
	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	req.OnSuccess = func(r Result) { ch <- outcome{res: r} }
	req.OnError = func(err error) { ch <- outcome{err: err} }

	a.gov.Submit(req)

	waitCtx := ctx
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	select {
	case o := <-ch:
		return o.res, o.err
	case <-waitCtx.Done():
		return Result{}, coreerr.New(coreerr.KindTimeout, fmt.Errorf("fetch: %w", waitCtx.Err()))
	}
}

// FetchBatch fetches every request and preserves input order in the
// output (spec §4.I); cache lookups for identical keys are naturally
// coalesced by the Cache Store's own read path.
func (a *API) FetchBatch(ctx context.Context, reqs []governor.Request) ([]Result, []error) {
	results := make([]Result, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req governor.Request) {
			defer wg.Done()
			results[i], errs[i] = a.Fetch(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results, errs
}

// Cancel is best-effort request cancellation (spec §5).
func (a *API) Cancel(id string) bool {
	return a.gov.Cancel(id)
}

// Status returns the current state of a request.
func (a *API) Status(id string) (governor.State, bool) {
	return a.gov.Status(id)
}

// PutHistorical stores a historical chunk permanently.
func (a *API) PutHistorical(ctx context.Context, symbol, provider, timeframe string, blob []byte, start, end time.Time) error {
	return a.cache.PutHistorical(ctx, symbol, provider, timeframe, blob, start, end)
}

// GetHistorical retrieves a historical chunk.
func (a *API) GetHistorical(ctx context.Context, symbol, provider, timeframe string, start, end time.Time) ([]byte, bool, error) {
	return a.cache.GetHistorical(ctx, symbol, provider, timeframe, start, end)
}

// HasHistorical reports whether an exact historical range is cached.
func (a *API) HasHistorical(ctx context.Context, symbol, provider, timeframe string, start, end time.Time) (bool, error) {
	return a.cache.HasHistorical(ctx, symbol, provider, timeframe, start, end)
}

// StartHistoricalLoad begins a chunked historical load and returns its id.
func (a *API) StartHistoricalLoad(rng historical.Range) string {
	return a.loader.Load(rng)
}

// StartWarmup begins a trailing-window pre-load for a symbol/provider/
// timeframe combination, ahead of live traffic needing it.
func (a *API) StartWarmup(plan historical.WarmupPlan) string {
	return a.loader.Warmup(plan)
}

// LoadingStatus returns a historical load's progress.
func (a *API) LoadingStatus(loadingID string) (historical.Progress, error) {
	return a.loader.Status(loadingID)
}

// PauseLoading / ResumeLoading / CancelLoading control an in-progress load.
func (a *API) PauseLoading(loadingID string) error  { return a.loader.Pause(loadingID) }
func (a *API) ResumeLoading(loadingID string) error { return a.loader.Resume(loadingID) }
func (a *API) CancelLoading(loadingID string) error { return a.loader.Cancel(loadingID) }

// Stats assembles the stats() response from the Governor's Quota Tracker
// and the Cache Store's footprint snapshot.
func (a *API) Stats(ctx context.Context) (Stats, error) {
	per := make(map[string]quota.Stats, len(a.providerIDs))
	tracker := a.gov.Tracker()
	for _, id := range a.providerIDs {
		per[id] = tracker.Stats(id)
	}

	cacheStats, err := a.cache.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{PerProvider: per, Cache: cacheStats}, nil
}
