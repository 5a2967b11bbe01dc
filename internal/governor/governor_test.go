// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

package governor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/feedcore/ingestd/internal/cachestore"
	"github.com/feedcore/ingestd/internal/clock"
	"github.com/feedcore/ingestd/internal/degrade"
	"github.com/feedcore/ingestd/internal/policy"
	"github.com/feedcore/ingestd/internal/quota"
	"github.com/feedcore/ingestd/internal/registry"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	mu        sync.Mutex
	calls     map[string]int
	failTimes map[string]int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{calls: make(map[string]int), failTimes: make(map[string]int)}
}

func (f *fakeCaller) Call(ctx context.Context, providerID string, req Request) ([]byte, error) {
	f.mu.Lock()
	f.calls[providerID]++
	n := f.calls[providerID]
	failUntil := f.failTimes[providerID]
	f.mu.Unlock()
	if n <= failUntil {
		return nil, fmt.Errorf("simulated failure")
	}
	return []byte(fmt.Sprintf("%s-payload-%d", providerID, n)), nil
}

func newTestGovernor(t *testing.T, descriptors ...registry.Descriptor) (*Governor, *clock.Fake, *fakeCaller, *cachestore.Store) {
	t.Helper()
	reg, err := registry.New(descriptors...)
	require.NoError(t, err)
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tracker := quota.New(reg, fc, nil)
	pol := policy.New(policy.Balanced)

	dir := t.TempDir()
	store, err := cachestore.New(cachestore.Config{Path: filepath.Join(dir, "c.duckdb")}, pol, fc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	caller := newFakeCaller()
	g := New(reg, tracker, store, pol, caller, fc, Config{})
	return g, fc, caller, store
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSubmitCacheHitFastPath(t *testing.T) {
	g, fc, caller, store := newTestGovernor(t, registry.Descriptor{ID: "cc", BaseURL: "https://x", DailyCap: 10, MonthlyCap: 100, MinInterval: 0})

	key := CacheKey("price", "cc", "BTC", nil)
	require.NoError(t, store.Put(context.Background(), cachestore.Entry{
		Key: key, Blob: []byte("cached-price"), DataType: "price", Provider: "cc", Symbol: "BTC",
		ExpiresAt: fc.Now().Add(time.Hour),
	}))

	var got Result
	done := make(chan struct{})
	g.Submit(Request{
		DataType: "price", ProviderHint: "cc", Symbol: "BTC", AllowCache: true,
		OnSuccess: func(r Result) { got = r; close(done) },
		OnError:   func(err error) { t.Fatalf("unexpected error: %v", err) },
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cache hit callback")
	}
	require.Equal(t, "cached-price", string(got.Payload))
	require.Equal(t, 0, caller.calls["cc"])
}

func TestDispatchFallsBackToAltProviderWhenPrimaryDeniedDaily(t *testing.T) {
	g, _, caller, _ := newTestGovernor(t,
		registry.Descriptor{ID: "cc", BaseURL: "https://x", DailyCap: 0, MonthlyCap: 100, MinInterval: 0},
		registry.Descriptor{ID: "av", BaseURL: "https://y", DailyCap: 10, MonthlyCap: 100, MinInterval: 0},
	)

	var got Result
	var gotErr error
	done := make(chan struct{})
	g.Submit(Request{
		DataType: "price", ProviderHint: "cc", Symbol: "BTC", AllowCache: false,
		OnSuccess: func(r Result) { got = r; close(done) },
		OnError:   func(err error) { gotErr = err; close(done) },
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go g.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
	require.NoError(t, gotErr)
	require.Equal(t, "av-payload-1", string(got.Payload))
	require.Equal(t, 0, caller.calls["cc"])
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	reg, err := registry.New(registry.Descriptor{ID: "cc", BaseURL: "https://x", DailyCap: 100, MonthlyCap: 1000, MinInterval: 0})
	require.NoError(t, err)
	clk := clock.NewReal()
	tracker := quota.New(reg, clk, nil)
	pol := policy.New(policy.Balanced)
	dir := t.TempDir()
	store, err := cachestore.New(cachestore.Config{Path: filepath.Join(dir, "c.duckdb")}, pol, clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	caller := newFakeCaller()
	caller.failTimes["cc"] = 2
	g := New(reg, tracker, store, pol, caller, clk, Config{RetryDelayBase: time.Millisecond, BackoffMultiplier: 1.5})

	var got Result
	done := make(chan struct{})
	g.Submit(Request{
		DataType: "price", ProviderHint: "cc", Symbol: "BTC", AllowCache: false,
		OnSuccess: func(r Result) { got = r; close(done) },
		OnError:   func(err error) { t.Fatalf("unexpected error: %v", err) },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go g.Run(ctx)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for retry success")
	}
	require.Equal(t, "cc-payload-3", string(got.Payload))
}

func TestSubmitDeniedWhenNoStepsAvailable(t *testing.T) {
	g, _, _, _ := newTestGovernor(t) // no providers registered at all

	var gotErr error
	done := make(chan struct{})
	g.Submit(Request{
		DataType: "price", ProviderHint: "cc", Symbol: "BTC", AllowCache: false,
		OnSuccess: func(r Result) { close(done) },
		OnError:   func(err error) { gotErr = err; close(done) },
	})
	<-done
	require.Error(t, gotErr)
}

func TestCancelQueuedRequestFailsWithCancelled(t *testing.T) {
	g, _, _, _ := newTestGovernor(t, registry.Descriptor{ID: "cc", BaseURL: "https://x", DailyCap: 10, MonthlyCap: 10, MinInterval: 0})

	var gotErr error
	var mu sync.Mutex
	// No Run() goroutine is started, so the item stays queued until Cancel
	// removes it, never reaching the fake caller.
	id := g.Submit(Request{
		DataType: "price", ProviderHint: "cc", Symbol: "BTC", AllowCache: false,
		OnSuccess: func(r Result) {},
		OnError:   func(err error) { mu.Lock(); gotErr = err; mu.Unlock() },
	})

	ok := g.Cancel(id)
	require.True(t, ok)
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil
	})
}

func TestConservationStrategiesSortedByPriority(t *testing.T) {
	g, _, _, _ := newTestGovernor(t)
	strategies := g.ConservationStrategies()
	require.NotEmpty(t, strategies)
	for i := 1; i < len(strategies); i++ {
		require.LessOrEqual(t, strategies[i-1].Priority, strategies[i].Priority)
	}
}

func TestIsOffPeak(t *testing.T) {
	require.True(t, IsOffPeak(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)))
	require.False(t, IsOffPeak(time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)))
}

func TestEmergencyModeEntersAfterTwoProvidersDeniedDaily(t *testing.T) {
	g, _, _, _ := newTestGovernor(t,
		registry.Descriptor{ID: "cc", BaseURL: "https://x", DailyCap: 0, MonthlyCap: 100, MinInterval: 0},
		registry.Descriptor{ID: "av", BaseURL: "https://y", DailyCap: 0, MonthlyCap: 100, MinInterval: 0},
	)
	g.noteDailyDenied("cc", true)
	require.False(t, g.IsEmergency())
	g.noteDailyDenied("av", true)
	require.True(t, g.IsEmergency())
}

func TestSnapshotStateSetsStaticFallbackFromLastKnownValue(t *testing.T) {
	g, fc, _, store := newTestGovernor(t, registry.Descriptor{ID: "cc", BaseURL: "https://x", DailyCap: 10, MonthlyCap: 100, MinInterval: 0})

	req := Request{DataType: "price", ProviderHint: "cc", Symbol: "BTC"}
	gs := g.snapshotState(req)
	require.False(t, gs.StaticFallbackAvailable, "no cached value yet")

	key := CacheKey("price", "cc", "BTC", nil)
	require.NoError(t, store.Put(context.Background(), cachestore.Entry{
		Key: key, Blob: []byte("last-known-price"), DataType: "price", Provider: "cc", Symbol: "BTC",
		ExpiresAt: fc.Now().Add(-time.Minute), // already stale, but executeStaticStep accepts any age
	}))

	gs = g.snapshotState(req)
	require.True(t, gs.StaticFallbackAvailable)
}

func TestSnapshotStateSetsInterpolationEligibleForPriceLikeWithNeighbors(t *testing.T) {
	g, _, _, store := newTestGovernor(t, registry.Descriptor{ID: "cc", BaseURL: "https://x", DailyCap: 10, MonthlyCap: 100, MinInterval: 0})

	req := Request{DataType: "price", ProviderHint: "cc", Symbol: "BTC"}
	require.False(t, g.snapshotState(req).InterpolationEligible, "fewer than two neighbors")

	require.NoError(t, store.Put(context.Background(), cachestore.Entry{
		Key: "price:cc:BTC:t=1", Blob: []byte("p1"), DataType: "price", Provider: "cc", Symbol: "BTC",
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.False(t, g.snapshotState(req).InterpolationEligible, "still only one neighbor")

	require.NoError(t, store.Put(context.Background(), cachestore.Entry{
		Key: "price:cc:BTC:t=2", Blob: []byte("p2"), DataType: "price", Provider: "cc", Symbol: "BTC",
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.True(t, g.snapshotState(req).InterpolationEligible)

	newsReq := Request{DataType: "news", ProviderHint: "cc", Symbol: "BTC"}
	require.False(t, g.snapshotState(newsReq).InterpolationEligible, "news is not price-like")
}

func TestDispatchServesStaticFallbackWhenPrimaryDeniedAndNoAltBudget(t *testing.T) {
	g, fc, caller, store := newTestGovernor(t,
		registry.Descriptor{ID: "cc", BaseURL: "https://x", DailyCap: 0, MonthlyCap: 100, MinInterval: 0},
		registry.Descriptor{ID: "av", BaseURL: "https://y", DailyCap: 0, MonthlyCap: 100, MinInterval: 0},
	)
	key := CacheKey("price", "cc", "BTC", nil)
	require.NoError(t, store.Put(context.Background(), cachestore.Entry{
		Key: key, Blob: []byte("last-known-price"), DataType: "price", Provider: "cc", Symbol: "BTC",
		ExpiresAt: fc.Now().Add(-time.Minute),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go g.Run(ctx)

	var got Result
	done := make(chan struct{})
	g.Submit(Request{
		DataType: "price", ProviderHint: "cc", Symbol: "BTC", AllowCache: false,
		OnSuccess: func(r Result) { got = r; close(done) },
		OnError:   func(err error) { t.Fatalf("unexpected error: %v", err) },
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for static fallback")
	}
	require.Equal(t, "last-known-price", string(got.Payload))
	require.Equal(t, 0, caller.calls["cc"])
	require.Equal(t, 0, caller.calls["av"])
}

func TestEmergencyModeLowPriorityDeniedHighPriorityAllowed(t *testing.T) {
	g, _, _, _ := newTestGovernor(t, registry.Descriptor{ID: "cc", BaseURL: "https://x", DailyCap: 100, MonthlyCap: 1000, MinInterval: 0})
	g.SetEmergency(true)

	require.True(t, g.shouldServeInEmergency(Request{Priority: degrade.Critical}))
	require.True(t, g.shouldServeInEmergency(Request{Priority: degrade.High}))
	require.False(t, g.shouldServeInEmergency(Request{Priority: degrade.Low}))
}
