package state

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

var savedAt = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

func sampleState(seq uint64) risk.State {
	return risk.State{
		Version:  risk.StateVersion,
		Sequence: seq,
		SavedAt:  savedAt,
		Breaker: risk.BreakerState{
			State:     safety.StateCoolingDown,
			LastTrip:  &safety.TripRecord{ID: "t1", Reason: safety.ReasonMaxDrawdown, TrippedAt: savedAt, Drawdown: 0.22},
			TripCount: 1,
		},
		EmergencyStop: safety.StopFlag{Active: true, ActivatedAt: savedAt, Reason: "manual"},
		Tracker: performance.TrackerState{
			Drawdown:       performance.DrawdownState{PeakEquity: 1000, CurrentEquity: 780, DrawdownPct: 0.22},
			MaxDrawdownPct: 0.22,
			InitialEquity:  900,
			LastSampleAt:   savedAt,
		},
	}
}

func TestFileStore_FirstRun(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = fs.LoadState(context.Background())
	assert.ErrorIs(t, err, risk.ErrStateNotFound)

	trades, err := fs.LoadTrades(context.Background())
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.SaveState(ctx, sampleState(1)))
	require.NoError(t, fs.SaveState(ctx, sampleState(2)))

	st, err := fs.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Sequence)
	assert.Equal(t, safety.StateCoolingDown, st.Breaker.State)
	assert.True(t, st.EmergencyStop.Active)
	assert.Equal(t, 1000.0, st.Tracker.Drawdown.PeakEquity)

	_, err = os.Stat(filepath.Join(dir, backupFileName))
	assert.NoError(t, err, "previous state is kept as backup")
	_, err = os.Stat(filepath.Join(dir, stateFileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

// A corrupt file is an error, never a clean start
func TestFileStore_CorruptState(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte("{not json"), 0644))

	_, err = fs.LoadState(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, risk.ErrStateNotFound)
}

func TestFileStore_RejectsUntrustedState(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		mutate func(*risk.State)
	}{
		{"future version", func(s *risk.State) { s.Version = risk.StateVersion + 1 }},
		{"zero version", func(s *risk.State) { s.Version = 0 }},
		{"negative peak", func(s *risk.State) { s.Tracker.Drawdown.PeakEquity = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := NewFileStore(t.TempDir(), nil)
			require.NoError(t, err)
			st := sampleState(1)
			tt.mutate(&st)
			require.NoError(t, fs.SaveState(ctx, st))
			_, err = fs.LoadState(ctx)
			assert.Error(t, err)
		})
	}
}

func TestFileStore_TradesAndSnapshots(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i, pnl := range []float64{10, -5, 7} {
		require.NoError(t, fs.AppendTrade(ctx, performance.TradeRecord{
			ID: string(rune('a' + i)), Side: safety.SideBuy, ClosedAt: savedAt, RealizedPnL: pnl,
		}))
	}
	trades, err := fs.LoadTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, -5.0, trades[1].RealizedPnL)

	for i := 1; i <= 4; i++ {
		require.NoError(t, fs.AppendSnapshot(ctx, performance.PerformanceSnapshot{
			TakenAt: savedAt.Add(time.Duration(i) * time.Hour), TradeCount: i,
			ProfitFactor: math.Inf(1), ProfitFactorInfinite: true, SharpeRatio: math.NaN(),
		}))
	}
	snaps, err := fs.Snapshots(ctx, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 3, snaps[0].TradeCount)
	assert.Equal(t, 4, snaps[1].TradeCount)
	assert.True(t, math.IsInf(snaps[1].ProfitFactor, 1))

	all, err := fs.Snapshots(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

// A crash mid-append leaves a partial line; later appends and loads must survive it
func TestFileStore_TornTradeLine(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.AppendTrade(ctx, performance.TradeRecord{ID: "a", Side: safety.SideBuy, ClosedAt: savedAt, RealizedPnL: 10}))
	require.NoError(t, fs.AppendTrade(ctx, performance.TradeRecord{ID: "b", Side: safety.SideBuy, ClosedAt: savedAt, RealizedPnL: -5}))

	f, err := os.OpenFile(filepath.Join(dir, tradesFileName), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"c","side":"BU`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.AppendTrade(ctx, performance.TradeRecord{ID: "d", Side: safety.SideBuy, ClosedAt: savedAt, RealizedPnL: 7}))

	trades, err := fs.LoadTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "a", trades[0].ID)
	assert.Equal(t, "b", trades[1].ID)
	assert.Equal(t, "d", trades[2].ID)
	assert.Equal(t, 7.0, trades[2].RealizedPnL)
}

func TestFileStore_TornFinalSnapshotLine(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.AppendSnapshot(ctx, performance.PerformanceSnapshot{TakenAt: savedAt, TradeCount: 1}))
	f, err := os.OpenFile(filepath.Join(dir, snapshotFileName), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"taken_at":`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	snaps, err := fs.Snapshots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].TradeCount)
}

func TestMemoryStore_Contract(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	_, err := ms.LoadState(ctx)
	assert.ErrorIs(t, err, risk.ErrStateNotFound)

	require.NoError(t, ms.SaveState(ctx, sampleState(3)))
	st, err := ms.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.Sequence)

	require.NoError(t, ms.AppendSnapshot(ctx, performance.PerformanceSnapshot{TradeCount: 1}))
	require.NoError(t, ms.AppendSnapshot(ctx, performance.PerformanceSnapshot{TradeCount: 2}))
	snaps, err := ms.Snapshots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 2, snaps[0].TradeCount)
}

// Round trip through the manager: a restart restores the breaker and the stop
func TestFileStore_ManagerRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	fs, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	clock := risk.NewManualClock(savedAt)
	opts := risk.Options{Limits: testLimits(), Repository: fs, Clock: clock}
	m, err := risk.NewManager(ctx, opts)
	require.NoError(t, err)
	m.OnEquityUpdate(ctx, 1000, clock.Now())
	_, err = m.OnEquityUpdate(ctx, 700, clock.Now())
	require.NoError(t, err)

	again, err := risk.NewManager(ctx, opts)
	require.NoError(t, err)
	assert.False(t, again.MayTrade())
	assert.Equal(t, safety.StateCoolingDown, again.Status().Breaker.State)
}

// A damaged state file leaves the restarted manager halted
func TestFileStore_ManagerFailsSafeOnCorruption(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte(`{"version": 1, "breaker": {"state": "MAYBE"}}`), 0644))
	fs, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	m, err := risk.NewManager(context.Background(), risk.Options{Limits: testLimits(), Repository: fs})
	require.NoError(t, err)
	assert.Error(t, m.LoadError())
	assert.False(t, m.MayTrade())
	assert.Equal(t, risk.ReasonStateLoadFailed, m.Status().EmergencyStop.Reason)
}
