// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

package policy

import (
	"testing"
	"time"

	"github.com/feedcore/ingestd/internal/coreerr"
	"github.com/stretchr/testify/require"
)

func TestPolicyForReturnsDefaultForUnregisteredType(t *testing.T) {
	e := New(Balanced)
	p := e.PolicyFor("unknown_type")
	require.Equal(t, 60*time.Minute, p.DefaultTTL)
	require.False(t, p.AllowPermanent)
	require.Equal(t, 1<<20, p.MaxEntrySize)
}

func TestPolicyForBalancedMatchesSpecTable(t *testing.T) {
	e := New(Balanced)

	hist := e.PolicyFor("historical")
	require.Equal(t, 365*24*time.Hour, hist.DefaultTTL)
	require.True(t, hist.AllowPermanent)
	require.Equal(t, 20<<20, hist.MaxEntrySize)
	require.Equal(t, 500, hist.MaxEntriesOfType)
	require.True(t, hist.Dedupe)
	require.True(t, hist.Compress)

	price := e.PolicyFor("price")
	require.Equal(t, 15*time.Minute, price.DefaultTTL)
	require.False(t, price.AllowPermanent)
	require.Equal(t, 1<<20, price.MaxEntrySize)
	require.False(t, price.Compress)

	news := e.PolicyFor("news")
	require.Equal(t, 6*time.Hour, news.DefaultTTL)
	require.True(t, news.Dedupe)

	sentiment := e.PolicyFor("sentiment")
	require.Equal(t, 12*time.Hour, sentiment.DefaultTTL)
	require.Equal(t, 512<<10, sentiment.MaxEntrySize)
}

func TestEnforceRejectsOversizeEntry(t *testing.T) {
	e := New(Balanced)
	err := e.Enforce("price", 2<<20, false)
	require.Error(t, err)
	kind, ok := coreerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, coreerr.KindPolicyViolation, kind)
}

func TestEnforceRejectsPermanentWhenDisallowed(t *testing.T) {
	e := New(Balanced)
	err := e.Enforce("price", 10, true)
	require.Error(t, err)
}

func TestEnforceAllowsPermanentHistorical(t *testing.T) {
	e := New(Balanced)
	err := e.Enforce("historical", 10<<20, true)
	require.NoError(t, err)
}

func TestHistoricalOnlyStrategyShrinksEverythingElse(t *testing.T) {
	e := New(HistoricalOnly)
	price := e.PolicyFor("price")
	require.Equal(t, time.Minute, price.DefaultTTL)
	require.Equal(t, 50, price.MaxEntriesOfType)

	hist := e.PolicyFor("historical")
	require.Equal(t, 365*24*time.Hour, hist.DefaultTTL)
}

func TestAggressiveStrategyCompressesEverything(t *testing.T) {
	e := New(Aggressive)
	require.True(t, e.ShouldCompress("price"))
	require.True(t, e.ShouldCompress("sentiment"))
}

func TestConservativeStrategyShrinksTTLsExceptHistorical(t *testing.T) {
	balanced := New(Balanced).PolicyFor("news").DefaultTTL
	conservative := New(Conservative).PolicyFor("news").DefaultTTL
	require.Equal(t, balanced/2, conservative)

	histBalanced := New(Balanced).PolicyFor("historical").DefaultTTL
	histConservative := New(Conservative).PolicyFor("historical").DefaultTTL
	require.Equal(t, histBalanced, histConservative)
}
