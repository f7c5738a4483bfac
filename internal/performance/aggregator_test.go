package performance

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tradesWithPnL(pnls ...float64) []TradeRecord {
	out := make([]TradeRecord, len(pnls))
	for i, p := range pnls {
		out[i] = TradeRecord{ID: string(rune('a' + i)), ClosedAt: day(i), RealizedPnL: p}
	}
	return out
}

func ingestAll(t *testing.T, a *Aggregator, trades []TradeRecord) {
	t.Helper()
	for _, tr := range trades {
		require.NoError(t, a.Ingest(tr))
	}
}

// Trades +100, -50, +30, -10
func TestSnapshot_ReferenceTrades(t *testing.T) {
	a := NewAggregator(DefaultAggregatorConfig())
	ingestAll(t, a, tradesWithPnL(100, -50, 30, -10))

	snap := a.Snapshot(DrawdownView{}, day(10))
	assert.Equal(t, 4, snap.TradeCount)
	assert.Equal(t, 0.5, snap.WinRate)
	assert.InDelta(t, 130.0/60.0, snap.ProfitFactor, 1e-12)
	assert.False(t, snap.ProfitFactorInfinite)
	assert.Equal(t, 70.0, snap.NetPnL)
}

func TestSnapshot_Empty(t *testing.T) {
	a := NewAggregator(DefaultAggregatorConfig())
	snap := a.Snapshot(DrawdownView{}, day(0))
	assert.Equal(t, 0, snap.TradeCount)
	assert.Equal(t, 0.0, snap.WinRate)
	assert.Equal(t, 0.0, snap.ProfitFactor)
	assert.Equal(t, 0.0, snap.ROIPct)
	assert.False(t, snap.SharpeDefined)
	assert.True(t, math.IsNaN(snap.SharpeRatio))
}

func TestSnapshot_InfiniteProfitFactor(t *testing.T) {
	a := NewAggregator(DefaultAggregatorConfig())
	ingestAll(t, a, tradesWithPnL(10, 20))

	snap := a.Snapshot(DrawdownView{}, day(3))
	assert.True(t, math.IsInf(snap.ProfitFactor, 1))
	assert.True(t, snap.ProfitFactorInfinite)
	assert.Equal(t, 1.0, snap.WinRate)
}

func TestSnapshot_Window(t *testing.T) {
	a := NewAggregator(AggregatorConfig{Window: 2})
	ingestAll(t, a, tradesWithPnL(-100, 10, 20))

	snap := a.Snapshot(DrawdownView{}, day(3))
	assert.Equal(t, 2, snap.TradeCount)
	assert.Equal(t, 30.0, snap.NetPnL)
	assert.Equal(t, 3, a.TradeCount())
}

// The equity metrics follow the trade window instead of the whole series
func TestSnapshot_WindowNarrowsEquity(t *testing.T) {
	tr := NewDrawdownTracker(0.5, 0)
	for i, v := range []float64{1100, 800, 900, 1000, 1100, 1210} {
		_, _, err := tr.RecordEquity(v, day(i))
		require.NoError(t, err)
	}
	a := NewAggregator(AggregatorConfig{Window: 2})
	ingestAll(t, a, []TradeRecord{
		{ID: "old", ClosedAt: day(1), RealizedPnL: -200},
		{ID: "mid", OpenedAt: day(4), ClosedAt: day(4), RealizedPnL: 100},
		{ID: "new", ClosedAt: day(5), RealizedPnL: 110},
	})

	snap := a.Snapshot(tr.View(), day(6))
	assert.Equal(t, 2, snap.TradeCount)
	assert.Equal(t, 1000.0, snap.InitialEquity, "baseline is the last sample before the window")
	assert.InDelta(t, 0.21, snap.ROIPct, 1e-12)
	assert.Zero(t, snap.MaxDrawdownPct)
	assert.Equal(t, 1210.0, snap.CurrentEquity)

	full := NewAggregator(AggregatorConfig{}).Snapshot(tr.View(), day(6))
	assert.InDelta(t, 300.0/1100.0, full.MaxDrawdownPct, 1e-12)
	assert.InDelta(t, 0.1, full.ROIPct, 1e-12)
}

func TestSnapshot_ROIAndMaxDrawdown(t *testing.T) {
	tr := NewDrawdownTracker(0.5, 0)
	for i, v := range []float64{1000, 1200, 900, 1100} {
		tr.RecordEquity(v, day(i))
	}
	a := NewAggregator(DefaultAggregatorConfig())

	snap := a.Snapshot(tr.View(), day(4))
	assert.InDelta(t, 0.1, snap.ROIPct, 1e-12)
	assert.InDelta(t, 0.25, snap.MaxDrawdownPct, 1e-12)
	assert.Equal(t, 1100.0, snap.CurrentEquity)
}

// Daily returns 20%, -25%, +22.2%: sample stdev, annualized by sqrt(365)
func TestSnapshot_SharpeDaily(t *testing.T) {
	tr := NewDrawdownTracker(0.9, 0)
	for i, v := range []float64{1000, 1200, 900, 1100} {
		tr.RecordEquity(v, day(i))
	}
	a := NewAggregator(DefaultAggregatorConfig())
	snap := a.Snapshot(tr.View(), day(4))
	require.True(t, snap.SharpeDefined)

	returns := []float64{0.2, -0.25, 1100.0/900.0 - 1}
	mean := (returns[0] + returns[1] + returns[2]) / 3
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	expected := mean / math.Sqrt(variance/2) * math.Sqrt(365)
	assert.InDelta(t, expected, snap.SharpeRatio, 1e-9)
}

// Samples inside one cadence bucket collapse to the bucket's last value
func TestPeriodicReturns_Buckets(t *testing.T) {
	samples := []EquitySample{
		{day0, 100},
		{day0.Add(time.Hour), 105},
		{day(1), 110},
		{day(1).Add(23 * time.Hour), 121},
		{day(2), 121},
	}
	returns := periodicReturns(samples, 24*time.Hour)
	require.Len(t, returns, 2)
	assert.InDelta(t, 121.0/105.0-1, returns[0], 1e-12)
	assert.InDelta(t, 0.0, returns[1], 1e-12)
}

func TestSharpe_Undefined(t *testing.T) {
	_, ok := sharpeRatio([]float64{0.1}, 365)
	assert.False(t, ok)
	_, ok = sharpeRatio([]float64{0.01, 0.01, 0.01}, 365)
	assert.False(t, ok, "flat returns have zero dispersion")
}

func TestSnapshot_Deterministic(t *testing.T) {
	a := NewAggregator(DefaultAggregatorConfig())
	ingestAll(t, a, tradesWithPnL(5, -3, 8))
	view := DrawdownView{MaxDrawdownPct: 0.1, CurrentEquity: 1010, InitialEquity: 1000}

	first, err := json.Marshal(a.Snapshot(view, day(1)))
	require.NoError(t, err)
	second, err := json.Marshal(a.Snapshot(view, day(1)))
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
}

func TestIngest_RejectsNonFinite(t *testing.T) {
	a := NewAggregator(DefaultAggregatorConfig())
	assert.Error(t, a.Ingest(TradeRecord{ID: "x", RealizedPnL: math.NaN()}))
	assert.Equal(t, 0, a.TradeCount())
}

// Infinite profit factor and undefined Sharpe encode as null
func TestSnapshot_JSONNulls(t *testing.T) {
	snap := PerformanceSnapshot{
		TradeCount:           2,
		ProfitFactor:         math.Inf(1),
		ProfitFactorInfinite: true,
		SharpeRatio:          math.NaN(),
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Nil(t, raw["profit_factor"])
	assert.Nil(t, raw["sharpe_ratio"])
	assert.Equal(t, true, raw["profit_factor_infinite"])

	var back PerformanceSnapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsInf(back.ProfitFactor, 1))
	assert.False(t, back.SharpeDefined)
	assert.True(t, math.IsNaN(back.SharpeRatio))
}

func TestSnapshot_JSONFinite(t *testing.T) {
	snap := PerformanceSnapshot{ProfitFactor: 2.5, SharpeRatio: 1.2, SharpeDefined: true}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var back PerformanceSnapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 2.5, back.ProfitFactor)
	assert.Equal(t, 1.2, back.SharpeRatio)
	assert.True(t, back.SharpeDefined)
}
