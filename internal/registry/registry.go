// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package registry implements the Provider Registry: a read-only, static
// table of provider descriptors loaded once at startup. It is the
// non-owning reference every other component holds to know a provider's
// caps and capabilities, grounded in the teacher's config-defaults pattern
// (internal/config, formerly koanf.go's defaultConfig) generalized from
// per-media-server settings to per-data-provider settings.
package registry

import (
	"fmt"
	"time"

	"github.com/feedcore/ingestd/internal/coreerr"
)

// Descriptor is the static, immutable-for-process-lifetime description of a
// data provider.
type Descriptor struct {
	ID                  string
	BaseURL             string
	DailyCap            int
	MonthlyCap          int
	MaxRequestsPerSecond float64
	MinInterval         time.Duration
	AuthRequired        bool
	// SupportedSymbols and SupportedTimeframes are advisory; an empty slice
	// means "no restriction known".
	SupportedSymbols    []string
	SupportedTimeframes []string
	// AllowParallel permits more than one in-flight call at a time for this
	// provider, overriding the Governor's default single-flight policy.
	AllowParallel bool
}

func (d Descriptor) validate() error {
	if d.ID == "" {
		return coreerr.Newf(coreerr.KindInvalidConfig, "provider descriptor missing id")
	}
	if d.BaseURL == "" {
		return coreerr.Newf(coreerr.KindInvalidConfig, "provider %q: base_url is empty", d.ID)
	}
	if d.DailyCap <= 0 {
		return coreerr.Newf(coreerr.KindInvalidConfig, "provider %q: daily_cap must be > 0, got %d", d.ID, d.DailyCap)
	}
	if d.MonthlyCap <= 0 {
		return coreerr.Newf(coreerr.KindInvalidConfig, "provider %q: monthly_cap must be > 0, got %d", d.ID, d.MonthlyCap)
	}
	if d.MinInterval < 0 {
		return coreerr.Newf(coreerr.KindInvalidConfig, "provider %q: min_interval must be >= 0, got %v", d.ID, d.MinInterval)
	}
	return nil
}

// Registry is a read-only table of provider descriptors, safe for
// concurrent reads by every other component.
type Registry struct {
	descriptors map[string]Descriptor
	// order preserves registration order for deterministic iteration (e.g.
	// alternative-provider fallback ordering when no explicit priority is
	// configured).
	order []string
}

// New builds a Registry from the given descriptors, validating each one.
// Registration fails with coreerr.KindInvalidConfig on the first invalid
// descriptor encountered.
func New(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, exists := r.descriptors[d.ID]; exists {
			return nil, coreerr.Newf(coreerr.KindInvalidConfig, "duplicate provider id %q", d.ID)
		}
		r.descriptors[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	return r, nil
}

// Get returns the descriptor for provider_id, pure and side-effect-free.
func (r *Registry) Get(providerID string) (Descriptor, error) {
	d, ok := r.descriptors[providerID]
	if !ok {
		return Descriptor{}, fmt.Errorf("registry: unknown provider %q", providerID)
	}
	return d, nil
}

// All returns every registered descriptor in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.descriptors[id])
	}
	return out
}

// AlternativesFor returns every provider other than exclude, in
// registration order, for use as the Degradation Planner's alt-provider
// fallback set.
func (r *Registry) AlternativesFor(exclude string) []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		if id == exclude {
			continue
		}
		out = append(out, r.descriptors[id])
	}
	return out
}
