// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package quality implements the Quality Scorer (spec §4.H): a pure
// function of (source_kind, age, completeness_hint) producing a Quality
// Annotation, grounded in original_source's confidence-scoring table for
// cache-vs-live data (ConservationStrategies' quality weighting) and
// reshaped into the spec's exact freshness/accuracy/completeness table.
package quality

import "time"

// SourceKind identifies how a Result was produced.
type SourceKind int

const (
	FreshAPI SourceKind = iota
	Cache
	AltProvider
	Interpolated
	Static
)

func (k SourceKind) String() string {
	switch k {
	case FreshAPI:
		return "FRESH_API"
	case Cache:
		return "CACHE"
	case AltProvider:
		return "ALT_PROVIDER"
	case Interpolated:
		return "INTERPOLATED"
	case Static:
		return "STATIC"
	default:
		return "UNKNOWN"
	}
}

// Annotation is the Quality Annotation (spec §3).
type Annotation struct {
	Freshness    float64
	Accuracy     float64
	Completeness float64
	SourceKind   SourceKind
	ProducedAt   time.Time
}

// Score is the table-driven score for each source kind (spec §4.H). For
// Cache, age/ttl determine freshness; age and ttl are both non-negative,
// and ttl == 0 is treated as already-expired (freshness 0).
//
//	source_kind    freshness              accuracy  completeness
//	FRESH_API      1.0                    1.0       1.0
//	CACHE          max(0, 1 - age/ttl)    0.95      1.0
//	ALT_PROVIDER   1.0                    0.9       1.0
//	INTERPOLATED   1.0                    0.7       0.9
//	STATIC         0.3                    0.6       0.8
func Score(kind SourceKind, age, ttl time.Duration, now time.Time) Annotation {
	a := Annotation{SourceKind: kind, ProducedAt: now}
	switch kind {
	case FreshAPI:
		a.Freshness, a.Accuracy, a.Completeness = 1.0, 1.0, 1.0
	case Cache:
		a.Freshness = cacheFreshness(age, ttl)
		a.Accuracy = 0.95
		a.Completeness = 1.0
	case AltProvider:
		a.Freshness, a.Accuracy, a.Completeness = 1.0, 0.9, 1.0
	case Interpolated:
		a.Freshness, a.Accuracy, a.Completeness = 1.0, 0.7, 0.9
	case Static:
		a.Freshness, a.Accuracy, a.Completeness = 0.3, 0.6, 0.8
	default:
		a.Freshness, a.Accuracy, a.Completeness = 0, 0, 0
	}
	return a
}

func cacheFreshness(age, ttl time.Duration) float64 {
	if ttl <= 0 {
		return 0
	}
	f := 1 - float64(age)/float64(ttl)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Overall collapses an Annotation to a single floor-comparable scalar, the
// minimum of its three dimensions, for callers enforcing a single quality
// floor (spec §4.H: "Consumers downstream may reject results below a
// per-use-case quality floor").
func (a Annotation) Overall() float64 {
	m := a.Freshness
	if a.Accuracy < m {
		m = a.Accuracy
	}
	if a.Completeness < m {
		m = a.Completeness
	}
	return m
}
