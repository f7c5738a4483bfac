package performance

import (
	"encoding/json"
	"math"
	"time"
)

// PerformanceSnapshot is a point-in-time rollup of realized results.
// ProfitFactor may be +Inf and SharpeRatio may be NaN; the flags say which.
type PerformanceSnapshot struct {
	TakenAt              time.Time
	TradeCount           int
	WinRate              float64
	ProfitFactor         float64
	ProfitFactorInfinite bool
	SharpeRatio          float64
	SharpeDefined        bool
	MaxDrawdownPct       float64
	ROIPct               float64
	NetPnL               float64
	CurrentEquity        float64
	InitialEquity        float64
}

// snapshotJSON swaps the non-finite values for nulls, which encoding/json cannot emit.
type snapshotJSON struct {
	TakenAt              time.Time `json:"taken_at"`
	TradeCount           int       `json:"trade_count"`
	WinRate              float64   `json:"win_rate"`
	ProfitFactor         *float64  `json:"profit_factor"`
	ProfitFactorInfinite bool      `json:"profit_factor_infinite"`
	SharpeRatio          *float64  `json:"sharpe_ratio"`
	MaxDrawdownPct       float64   `json:"max_drawdown_pct"`
	ROIPct               float64   `json:"roi_pct"`
	NetPnL               float64   `json:"net_pnl"`
	CurrentEquity        float64   `json:"current_equity"`
	InitialEquity        float64   `json:"initial_equity"`
}

func (s PerformanceSnapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		TakenAt:              s.TakenAt,
		TradeCount:           s.TradeCount,
		WinRate:              s.WinRate,
		ProfitFactorInfinite: s.ProfitFactorInfinite,
		MaxDrawdownPct:       s.MaxDrawdownPct,
		ROIPct:               s.ROIPct,
		NetPnL:               s.NetPnL,
		CurrentEquity:        s.CurrentEquity,
		InitialEquity:        s.InitialEquity,
	}
	if !s.ProfitFactorInfinite && finite(s.ProfitFactor) {
		pf := s.ProfitFactor
		out.ProfitFactor = &pf
	}
	if s.SharpeDefined && finite(s.SharpeRatio) {
		sr := s.SharpeRatio
		out.SharpeRatio = &sr
	}
	return json.Marshal(out)
}

func (s *PerformanceSnapshot) UnmarshalJSON(data []byte) error {
	var in snapshotJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = PerformanceSnapshot{
		TakenAt:              in.TakenAt,
		TradeCount:           in.TradeCount,
		WinRate:              in.WinRate,
		ProfitFactorInfinite: in.ProfitFactorInfinite,
		SharpeRatio:          math.NaN(),
		MaxDrawdownPct:       in.MaxDrawdownPct,
		ROIPct:               in.ROIPct,
		NetPnL:               in.NetPnL,
		CurrentEquity:        in.CurrentEquity,
		InitialEquity:        in.InitialEquity,
	}
	switch {
	case in.ProfitFactorInfinite:
		s.ProfitFactor = math.Inf(1)
	case in.ProfitFactor != nil:
		s.ProfitFactor = *in.ProfitFactor
	}
	if in.SharpeRatio != nil {
		s.SharpeRatio = *in.SharpeRatio
		s.SharpeDefined = true
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
