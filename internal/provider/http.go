// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package provider implements the generic HTTP Provider Adapter (spec §6:
// "Provider adapter interface"): a single governor.ProviderCaller that
// turns a Request into a GET against the provider's configured base URL,
// authenticating with the provider's API key when required.
//
// Grounded in the teacher's internal/sync/tautulli_client.go HTTP client
// style (configurable-timeout http.Client, context-bound requests, bounded
// error-body reads) generalized from one fixed API shape to N
// symbol/timeframe-parameterized market-data providers, per
// original_source/ApiLimitHandler.h's provider-agnostic call boundary.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/feedcore/ingestd/internal/coreerr"
	"github.com/feedcore/ingestd/internal/governor"
	"github.com/feedcore/ingestd/internal/registry"
)

// maxErrorBodySize bounds how much of a non-2xx response body is read for
// error reporting.
const maxErrorBodySize = 64 * 1024

// APIKeys maps provider ID to its (already-decrypted) API key.
type APIKeys map[string]string

// Caller is the generic HTTP-backed governor.ProviderCaller. One Caller
// instance serves every configured provider; per-provider behavior comes
// entirely from the Registry descriptor and the supplied API key.
//
// Each provider also gets its own token-bucket rate.Limiter built from
// Descriptor.MaxRequestsPerSecond, grounded in the teacher's per-key
// rate limiter (internal/auth/middleware.go's RateLimiter). This is a
// smoothing layer distinct from the Quota Tracker's hard daily/monthly
// caps and min-interval gate: it bounds burst concurrency within a
// provider's advertised RPS ceiling even when the Governor's own pacing
// allows a burst through.
type Caller struct {
	reg    *registry.Registry
	keys   APIKeys
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs a Caller. timeout bounds every individual HTTP call.
func New(reg *registry.Registry, keys APIKeys, timeout time.Duration) *Caller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if keys == nil {
		keys = APIKeys{}
	}
	return &Caller{
		reg:      reg,
		keys:     keys,
		client:   &http.Client{Timeout: timeout},
		limiters: make(map[string]*rate.Limiter),
	}
}

func (c *Caller) limiterFor(desc registry.Descriptor) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[desc.ID]
	if !ok {
		rps := desc.MaxRequestsPerSecond
		if rps <= 0 {
			rps = 1
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(rps), burst)
		c.limiters[desc.ID] = l
	}
	return l
}

// Call implements governor.ProviderCaller. It does not know how to decode
// req.Symbol/req.Parameters into a provider-specific URL shape beyond a
// generic query-string mapping, so the response body is returned raw;
// parsing and normalization are left to the caller of the Governor.
func (c *Caller) Call(ctx context.Context, providerID string, req governor.Request) ([]byte, error) {
	desc, err := c.reg.Get(providerID)
	if err != nil {
		return nil, coreerr.New(coreerr.KindProviderFailure, err)
	}

	if err := c.limiterFor(desc).Wait(ctx); err != nil {
		return nil, coreerr.New(coreerr.KindProviderFailure, err)
	}

	reqURL, err := c.buildURL(desc, req)
	if err != nil {
		return nil, coreerr.New(coreerr.KindProviderFailure, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, coreerr.New(coreerr.KindProviderFailure, err)
	}
	if desc.AuthRequired {
		if key := c.keys[providerID]; key != "" {
			httpReq.Header.Set("Authorization", "Bearer "+key)
		} else {
			return nil, coreerr.New(coreerr.KindProviderFailure, fmt.Errorf("provider %s requires auth but no API key is configured", providerID))
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, coreerr.New(coreerr.KindProviderFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, coreerr.New(coreerr.KindProviderFailure, fmt.Errorf("provider %s auth rejected: status %d", providerID, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		return nil, coreerr.New(coreerr.KindProviderFailure, fmt.Errorf("provider %s request failed: status %d: %s", providerID, resp.StatusCode, body))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, coreerr.New(coreerr.KindProviderFailure, err)
	}
	return payload, nil
}

func (c *Caller) buildURL(desc registry.Descriptor, req governor.Request) (string, error) {
	base, err := url.Parse(desc.BaseURL)
	if err != nil {
		return "", fmt.Errorf("provider %s has invalid base_url: %w", desc.ID, err)
	}
	base.Path = joinPath(base.Path, req.DataType)

	q := base.Query()
	if req.Symbol != "" {
		q.Set("symbol", req.Symbol)
	}
	keys := make([]string, 0, len(req.Parameters))
	for k := range req.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, req.Parameters[k])
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func joinPath(base, suffix string) string {
	if base == "" {
		return "/" + suffix
	}
	if base[len(base)-1] == '/' {
		return base + suffix
	}
	return base + "/" + suffix
}

// readBodyForError reads up to maxErrorBodySize of r for diagnostic
// purposes, bounding memory use on a misbehaving provider.
func readBodyForError(r io.Reader) []byte {
	limited := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}
