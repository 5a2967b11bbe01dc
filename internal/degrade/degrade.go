// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package degrade implements the Degradation Planner (spec §4.E): a pure
// function from (request, policy, provider/governor state) to an ordered
// chain of fallback steps. It performs no I/O and holds no state of its
// own; the Request Governor executes the plan it returns.
//
// Grounded in original_source/SmartCacheManager.h's waterfall "try cache,
// then primary, then alternates, then derive, then last-known-good"
// pattern, reshaped into an explicit step list per the spec's §9
// re-architecture note against embedding fallback logic directly in the
// dispatch loop.
package degrade

// Priority mirrors the Request priority levels (spec §3), ordered so the
// zero value is the highest priority and ascending order is Governor
// dispatch order ("priority ascending, scheduled_time ascending").
type Priority int

const (
	Critical Priority = iota
	High
	Medium
	Low
	Background
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	case Low:
		return "LOW"
	case Background:
		return "BACKGROUND"
	default:
		return "UNKNOWN"
	}
}

// StepKind identifies a single fallback step's mechanism.
type StepKind int

const (
	StepCache StepKind = iota
	StepPrimaryProvider
	StepAltProvider
	StepInterpolation
	StepStaticFallback
)

func (k StepKind) String() string {
	switch k {
	case StepCache:
		return "CACHE"
	case StepPrimaryProvider:
		return "PRIMARY_PROVIDER"
	case StepAltProvider:
		return "ALT_PROVIDER"
	case StepInterpolation:
		return "INTERPOLATION"
	case StepStaticFallback:
		return "STATIC_FALLBACK"
	default:
		return "UNKNOWN"
	}
}

// Step is one entry of a Degradation Plan (spec §3).
type Step struct {
	Kind                StepKind
	ProviderID          string // populated for StepPrimaryProvider / StepAltProvider
	MinAcceptableQuality float64
}

// Plan is the ordered chain a Degradation Plan produces.
type Plan []Step

// Request is the subset of the Public Request API Request (spec §3) the
// Planner needs.
type Request struct {
	DataType     string
	ProviderHint string
	AllowCache   bool
	Priority     Priority
}

// AlternativeProvider is one candidate in the registered fallback set for
// a data_type, in priority order.
type AlternativeProvider struct {
	ProviderID string
	// Available is a snapshot of "Quota Tracker would not immediately deny
	// this provider" taken by the caller before planning; the Planner does
	// not call the tracker itself to stay pure.
	Available bool
}

// GovernorState is the snapshot of provider/emergency state the caller
// (Request Governor) assembles before invoking Plan, keeping the Planner
// free of I/O.
type GovernorState struct {
	EmergencyMode bool

	PrimaryAvailable bool

	// Alternatives is the registered fallback set for the request's
	// data_type, already in priority order.
	Alternatives []AlternativeProvider

	// InterpolationEligible is true only for price-like data types with at
	// least two cached neighbors from the preceding 24h (spec §4.E.4).
	InterpolationEligible bool

	// StaticFallbackAvailable is true if a last-known-value exists for
	// (symbol, endpoint).
	StaticFallbackAvailable bool
}

// IsPriceLike reports whether data_type is eligible for interpolation
// (spec §4.E: "enabled only for price-like types"). Exported so the
// Request Governor can apply the same rule when deciding
// GovernorState.InterpolationEligible.
func IsPriceLike(dataType string) bool {
	switch dataType {
	case "price", "ohlcv":
		return true
	default:
		return false
	}
}

// cacheFreshnessFloor is the minimum acceptable freshness for the cache
// step outside emergency mode (spec §4.E.1: "Accepts if freshness ≥ 0.3").
const cacheFreshnessFloor = 0.3

// Plan builds the ordered fallback chain for req, given the governor's
// current snapshot gs. It is a pure function: identical inputs always
// produce an identical plan.
func Plan(req Request, gs GovernorState) Plan {
	var plan Plan

	if req.AllowCache {
		floor := cacheFreshnessFloor
		if gs.EmergencyMode {
			floor = 0 // "non-fresh cache (any age) is acceptable" in emergency mode
		}
		plan = append(plan, Step{Kind: StepCache, MinAcceptableQuality: floor})
	}

	if gs.PrimaryAvailable && req.ProviderHint != "" {
		plan = append(plan, Step{Kind: StepPrimaryProvider, ProviderID: req.ProviderHint, MinAcceptableQuality: 0})
	}

	for _, alt := range gs.Alternatives {
		if alt.ProviderID == req.ProviderHint {
			continue
		}
		if !alt.Available {
			continue
		}
		plan = append(plan, Step{Kind: StepAltProvider, ProviderID: alt.ProviderID, MinAcceptableQuality: 0})
	}

	if IsPriceLike(req.DataType) && gs.InterpolationEligible {
		plan = append(plan, Step{Kind: StepInterpolation, MinAcceptableQuality: 0.5})
	}

	if gs.StaticFallbackAvailable {
		plan = append(plan, Step{Kind: StepStaticFallback, MinAcceptableQuality: 0})
	}

	return plan
}
