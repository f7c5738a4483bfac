package performance

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

// TradeRecord is a closed round trip. RealizedPnL is already net of fees.
type TradeRecord struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol,omitempty"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    time.Time   `json:"closed_at"`
	Side        safety.Side `json:"side"`
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   float64     `json:"exit_price"`
	Quantity    float64     `json:"quantity"`
	Fees        float64     `json:"fees"`
	RealizedPnL float64     `json:"realized_pnl"`
}

// AggregatorConfig sets the snapshot window and the Sharpe sampling cadence.
type AggregatorConfig struct {
	Window         int           // trailing trades per snapshot, 0 = full history
	Cadence        time.Duration // equity bucket width for periodic returns
	PeriodsPerYear float64
}

func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Cadence:        24 * time.Hour,
		PeriodsPerYear: 365,
	}
}

// Aggregator turns closed trades and the equity series into performance snapshots.
// Not safe for concurrent use.
type Aggregator struct {
	cfg    AggregatorConfig
	trades []TradeRecord
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	def := DefaultAggregatorConfig()
	if cfg.Cadence <= 0 {
		cfg.Cadence = def.Cadence
	}
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = def.PeriodsPerYear
	}
	if cfg.Window < 0 {
		cfg.Window = 0
	}
	return &Aggregator{cfg: cfg}
}

// Ingest appends a closed trade.
func (a *Aggregator) Ingest(trade TradeRecord) error {
	if !finite(trade.RealizedPnL) || !finite(trade.Fees) {
		return errors.NewValidationError("aggregator", "ingest",
			fmt.Sprintf("trade %s has non-finite pnl %v or fees %v", trade.ID, trade.RealizedPnL, trade.Fees))
	}
	a.trades = append(a.trades, trade)
	return nil
}

func (a *Aggregator) TradeCount() int {
	return len(a.trades)
}

func (a *Aggregator) Trades() []TradeRecord {
	out := make([]TradeRecord, len(a.trades))
	copy(out, a.trades)
	return out
}

// Restore replaces the trade history.
func (a *Aggregator) Restore(trades []TradeRecord) {
	a.trades = append(a.trades[:0], trades...)
}

// Snapshot computes metrics over the configured trade window and the equity view.
// When the window drops older trades, the equity metrics cover the same span.
// It reads only, so repeated calls on the same inputs return equal snapshots.
func (a *Aggregator) Snapshot(view DrawdownView, at time.Time) PerformanceSnapshot {
	trades := a.trades
	if a.cfg.Window > 0 && len(trades) > a.cfg.Window {
		trades = trades[len(trades)-a.cfg.Window:]
		view = windowView(view, windowStart(trades))
	}

	snap := PerformanceSnapshot{
		TakenAt:        at,
		TradeCount:     len(trades),
		WinRate:        winRate(trades),
		MaxDrawdownPct: view.MaxDrawdownPct,
		NetPnL:         netPnL(trades),
		CurrentEquity:  view.CurrentEquity,
		InitialEquity:  view.InitialEquity,
	}
	snap.ProfitFactor = profitFactor(trades)
	snap.ProfitFactorInfinite = math.IsInf(snap.ProfitFactor, 1)
	snap.SharpeRatio, snap.SharpeDefined = sharpeRatio(periodicReturns(view.Samples, a.cfg.Cadence), a.cfg.PeriodsPerYear)
	if view.InitialEquity > 0 {
		snap.ROIPct = (view.CurrentEquity - view.InitialEquity) / view.InitialEquity
	}
	return snap
}

// windowStart is the earliest open or close time among trades.
func windowStart(trades []TradeRecord) time.Time {
	var start time.Time
	for _, t := range trades {
		for _, ts := range []time.Time{t.OpenedAt, t.ClosedAt} {
			if !ts.IsZero() && (start.IsZero() || ts.Before(start)) {
				start = ts
			}
		}
	}
	return start
}

// windowView narrows the equity view to samples from since on. The last sample
// before since is kept as the baseline for ROI and the first return.
func windowView(view DrawdownView, since time.Time) DrawdownView {
	if since.IsZero() || len(view.Samples) == 0 {
		return view
	}
	first := sort.Search(len(view.Samples), func(i int) bool {
		return !view.Samples[i].Timestamp.Before(since)
	})
	if first > 0 {
		first--
	}
	samples := view.Samples[first:]

	peak, maxDD := samples[0].Equity, 0.0
	for _, s := range samples {
		if s.Equity > peak {
			peak = s.Equity
		}
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-s.Equity)/peak)
		}
	}
	return DrawdownView{
		MaxDrawdownPct: maxDD,
		CurrentEquity:  view.CurrentEquity,
		InitialEquity:  samples[0].Equity,
		Samples:        samples,
	}
}

func winRate(trades []TradeRecord) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.RealizedPnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// profitFactor is gross gains over gross losses, +Inf with gains and no losses.
func profitFactor(trades []TradeRecord) float64 {
	gains, losses := 0.0, 0.0
	for _, t := range trades {
		if t.RealizedPnL > 0 {
			gains += t.RealizedPnL
		} else {
			losses += math.Abs(t.RealizedPnL)
		}
	}
	if losses == 0 {
		if gains > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return gains / losses
}

func netPnL(trades []TradeRecord) float64 {
	sum := 0.0
	for _, t := range trades {
		sum += t.RealizedPnL
	}
	return sum
}

// periodicReturns buckets samples by cadence from the first sample, takes the last
// equity in each bucket, and returns simple returns between consecutive buckets.
func periodicReturns(samples []EquitySample, cadence time.Duration) []float64 {
	if len(samples) < 2 || cadence <= 0 {
		return nil
	}

	origin := samples[0].Timestamp
	var closes []float64
	lastBucket := int64(-1)
	for _, s := range samples {
		bucket := int64(s.Timestamp.Sub(origin) / cadence)
		if bucket == lastBucket {
			closes[len(closes)-1] = s.Equity
			continue
		}
		closes = append(closes, s.Equity)
		lastBucket = bucket
	}

	returns := make([]float64, 0, len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	return returns
}

// sharpeRatio annualizes mean over sample standard deviation. Undefined with fewer
// than two returns or zero dispersion.
func sharpeRatio(returns []float64, periodsPerYear float64) (float64, bool) {
	if len(returns) < 2 {
		return math.NaN(), false
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)

	if stdDev < 1e-12 {
		return math.NaN(), false
	}
	return mean / stdDev * math.Sqrt(periodsPerYear), true
}
