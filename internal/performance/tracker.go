package performance

import (
	"fmt"
	"math"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
)

// EquitySample is one account equity observation.
type EquitySample struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// DrawdownState is derived from the samples seen so far.
type DrawdownState struct {
	PeakEquity    float64 `json:"peak_equity"`
	CurrentEquity float64 `json:"current_equity"`
	DrawdownPct   float64 `json:"drawdown_pct"`
}

// TrackerState is the persisted form of a DrawdownTracker.
type TrackerState struct {
	Drawdown       DrawdownState  `json:"drawdown"`
	MaxDrawdownPct float64        `json:"max_drawdown_pct"`
	InitialEquity  float64        `json:"initial_equity"`
	LastSampleAt   time.Time      `json:"last_sample_at,omitempty"`
	Samples        []EquitySample `json:"samples,omitempty"`
}

// DrawdownView is what the aggregator reads from the tracker.
type DrawdownView struct {
	MaxDrawdownPct float64
	CurrentEquity  float64
	InitialEquity  float64
	Samples        []EquitySample
}

// DefaultMaxSamples bounds the retained equity series.
const DefaultMaxSamples = 10000

// DrawdownTracker keeps peak equity and drawdown over an append-only equity series.
// It only detects breaches; tripping is the breaker's job. Not safe for concurrent use.
type DrawdownTracker struct {
	tripPct     float64
	maxSamples  int
	samples     []EquitySample
	state       DrawdownState
	maxDrawdown float64
	initial     float64
	lastAt      time.Time
	started     bool
}

func NewDrawdownTracker(tripPct float64, maxSamples int) *DrawdownTracker {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &DrawdownTracker{
		tripPct:    tripPct,
		maxSamples: maxSamples,
	}
}

// RecordEquity appends a sample and returns the new state. breached reports
// drawdown_pct >= the trip threshold.
func (t *DrawdownTracker) RecordEquity(value float64, at time.Time) (DrawdownState, bool, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return t.state, false, errors.NewInvalidSampleError("drawdown_tracker", "record_equity",
			fmt.Sprintf("equity %v is not finite", value))
	}
	if value < 0 {
		return t.state, false, errors.NewInvalidSampleError("drawdown_tracker", "record_equity",
			fmt.Sprintf("equity %v is negative", value))
	}
	if t.started && at.Before(t.lastAt) {
		return t.state, false, errors.NewInvalidSampleError("drawdown_tracker", "record_equity",
			fmt.Sprintf("sample at %s precedes last sample at %s", at.Format(time.RFC3339), t.lastAt.Format(time.RFC3339))).
			WithContext("last_sample_at", t.lastAt)
	}

	if !t.started {
		t.initial = value
		t.started = true
	}
	t.lastAt = at
	t.samples = append(t.samples, EquitySample{Timestamp: at, Equity: value})
	if len(t.samples) > t.maxSamples {
		t.samples = t.samples[len(t.samples)-t.maxSamples:]
	}

	t.state.CurrentEquity = value
	if value > t.state.PeakEquity {
		t.state.PeakEquity = value
	}
	t.state.DrawdownPct = drawdownPct(t.state.PeakEquity, value)
	if t.state.DrawdownPct > t.maxDrawdown {
		t.maxDrawdown = t.state.DrawdownPct
	}

	return t.state, t.Breached(), nil
}

// ResetPeak drops the peak to current equity. The max drawdown mark is kept.
func (t *DrawdownTracker) ResetPeak() {
	t.state.PeakEquity = t.state.CurrentEquity
	t.state.DrawdownPct = 0
}

// Breached reports whether the current drawdown is at or past the trip threshold.
func (t *DrawdownTracker) Breached() bool {
	return t.started && t.state.DrawdownPct >= t.tripPct
}

func (t *DrawdownTracker) State() DrawdownState {
	return t.state
}

func (t *DrawdownTracker) MaxDrawdownPct() float64 {
	return t.maxDrawdown
}

func (t *DrawdownTracker) InitialEquity() float64 {
	return t.initial
}

// View copies what the aggregator needs.
func (t *DrawdownTracker) View() DrawdownView {
	samples := make([]EquitySample, len(t.samples))
	copy(samples, t.samples)
	return DrawdownView{
		MaxDrawdownPct: t.maxDrawdown,
		CurrentEquity:  t.state.CurrentEquity,
		InitialEquity:  t.initial,
		Samples:        samples,
	}
}

func (t *DrawdownTracker) Export() TrackerState {
	samples := make([]EquitySample, len(t.samples))
	copy(samples, t.samples)
	return TrackerState{
		Drawdown:       t.state,
		MaxDrawdownPct: t.maxDrawdown,
		InitialEquity:  t.initial,
		LastSampleAt:   t.lastAt,
		Samples:        samples,
	}
}

// Restore reloads persisted state. Drawdown is recomputed from peak and current so a
// hand-edited file cannot smuggle in an out-of-range value.
func (t *DrawdownTracker) Restore(s TrackerState) {
	t.state = DrawdownState{
		PeakEquity:    s.Drawdown.PeakEquity,
		CurrentEquity: s.Drawdown.CurrentEquity,
	}
	if t.state.CurrentEquity > t.state.PeakEquity {
		t.state.PeakEquity = t.state.CurrentEquity
	}
	t.state.DrawdownPct = drawdownPct(t.state.PeakEquity, t.state.CurrentEquity)
	t.maxDrawdown = math.Max(clamp01(s.MaxDrawdownPct), t.state.DrawdownPct)
	t.initial = s.InitialEquity
	t.lastAt = s.LastSampleAt
	t.started = !s.LastSampleAt.IsZero() || s.Drawdown.PeakEquity > 0
	t.samples = append(t.samples[:0], s.Samples...)
	if len(t.samples) > t.maxSamples {
		t.samples = t.samples[len(t.samples)-t.maxSamples:]
	}
}

func drawdownPct(peak, current float64) float64 {
	if peak <= 0 {
		return 0
	}
	return clamp01((peak - current) / peak)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
