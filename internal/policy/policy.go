// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package policy implements the Cache Policy Engine (spec §4.D): a small,
// immutable-after-registration rule table keyed by data_type, consulted by
// the Cache Store before every write.
//
// Grounded in the teacher's retention-policy table pattern
// (internal/database/retention.go's per-table TTL map), generalized from
// fixed playback-history retention windows to the spec's per-data-type
// policy fields, and in original_source/SmartCacheManager.h's
// CacheManagerFactory::Strategy for the named presets.
package policy

import (
	"fmt"
	"time"

	"github.com/feedcore/ingestd/internal/coreerr"
)

// Policy is the Cache Policy (spec §3), one per data_type.
type Policy struct {
	DataType          string
	DefaultTTL        time.Duration
	AllowPermanent    bool
	MaxEntrySize      int
	MaxEntriesOfType  int
	Dedupe            bool
	Compress          bool
}

// defaultPolicy is returned by PolicyFor for an unregistered data_type, per
// spec §4.D: "ttl=60min, permanent=false, max_entry_size=1MiB,
// max_entries=10_000, dedupe=true, compress=false".
var defaultPolicy = Policy{
	DefaultTTL:       60 * time.Minute,
	AllowPermanent:   false,
	MaxEntrySize:     1 << 20,
	MaxEntriesOfType: 10_000,
	Dedupe:           true,
	Compress:         false,
}

// basePolicies is the spec's §4.D default table, before strategy-preset
// overrides are applied.
func basePolicies() map[string]Policy {
	return map[string]Policy{
		"historical": {DataType: "historical", DefaultTTL: 365 * 24 * time.Hour, AllowPermanent: true, MaxEntrySize: 20 << 20, MaxEntriesOfType: 500, Dedupe: true, Compress: true},
		"price":      {DataType: "price", DefaultTTL: 15 * time.Minute, AllowPermanent: false, MaxEntrySize: 1 << 20, MaxEntriesOfType: 500, Dedupe: false, Compress: false},
		"news":       {DataType: "news", DefaultTTL: 6 * time.Hour, AllowPermanent: false, MaxEntrySize: 5 << 20, MaxEntriesOfType: 200, Dedupe: true, Compress: true},
		"sentiment":  {DataType: "sentiment", DefaultTTL: 12 * time.Hour, AllowPermanent: false, MaxEntrySize: 512 << 10, MaxEntriesOfType: 100, Dedupe: false, Compress: false},
	}
}

// Strategy is a named preset overriding the default policy table, grounded
// in CacheManagerFactory::Strategy.
type Strategy string

const (
	Conservative   Strategy = "conservative"
	Balanced       Strategy = "balanced"
	Aggressive     Strategy = "aggressive"
	HistoricalOnly Strategy = "historical_only"
)

// applyStrategy mutates policies in place per the named preset.
func applyStrategy(policies map[string]Policy, strat Strategy) {
	switch strat {
	case Conservative:
		// Favor correctness/freshness over retention: shorter TTLs, no
		// speculative compression beyond historical.
		for k, p := range policies {
			if k == "historical" {
				continue
			}
			p.DefaultTTL = p.DefaultTTL / 2
			p.MaxEntriesOfType = p.MaxEntriesOfType / 2
			policies[k] = p
		}
	case Aggressive:
		// Favor request avoidance: longer TTLs, compress everything above
		// the default size threshold, larger caps.
		for k, p := range policies {
			p.DefaultTTL = p.DefaultTTL * 2
			p.MaxEntriesOfType = p.MaxEntriesOfType * 2
			p.Compress = true
			policies[k] = p
		}
	case HistoricalOnly:
		// Only historical ranges persist; everything else gets a minimal
		// TTL and no dedupe bookkeeping overhead.
		for k, p := range policies {
			if k == "historical" {
				continue
			}
			p.DefaultTTL = time.Minute
			p.MaxEntriesOfType = 50
			p.Dedupe = false
			p.Compress = false
			policies[k] = p
		}
	case Balanced, "":
		// Balanced is the table as-is.
	}
}

// Engine is the Cache Policy Engine. It satisfies cachestore.PolicyChecker.
type Engine struct {
	policies map[string]Policy
}

// New builds an Engine from the default policy table with an optional
// named strategy preset applied. An empty strat is Balanced.
func New(strat Strategy) *Engine {
	policies := basePolicies()
	applyStrategy(policies, strat)
	return &Engine{policies: policies}
}

// NewWithOverrides builds an Engine from explicit policies, bypassing the
// named presets entirely, for tests and advanced configuration.
func NewWithOverrides(policies map[string]Policy) *Engine {
	cp := make(map[string]Policy, len(policies))
	for k, v := range policies {
		cp[k] = v
	}
	return &Engine{policies: cp}
}

// PolicyFor returns the registered policy for data_type, or the safe
// default if none is registered.
func (e *Engine) PolicyFor(dataType string) Policy {
	if p, ok := e.policies[dataType]; ok {
		return p
	}
	d := defaultPolicy
	d.DataType = dataType
	return d
}

// Enforce implements cachestore.PolicyChecker. It is called by
// Cache Store.put before every insert.
func (e *Engine) Enforce(dataType string, sizeBytes int, isPermanent bool) error {
	p := e.PolicyFor(dataType)
	if sizeBytes > p.MaxEntrySize {
		return coreerr.New(coreerr.KindPolicyViolation,
			fmt.Errorf("entry of %d bytes exceeds max_entry_size %d for data_type %q", sizeBytes, p.MaxEntrySize, dataType))
	}
	if isPermanent && !p.AllowPermanent {
		return coreerr.New(coreerr.KindPolicyViolation,
			fmt.Errorf("data_type %q does not allow permanent storage", dataType))
	}
	return nil
}

// ShouldCompress implements cachestore.PolicyChecker.
func (e *Engine) ShouldCompress(dataType string) bool {
	return e.PolicyFor(dataType).Compress
}

// ShouldDedupe reports whether data_type requires dedup bookkeeping
// (find_by_hash usage) before a write.
func (e *Engine) ShouldDedupe(dataType string) bool {
	return e.PolicyFor(dataType).Dedupe
}
