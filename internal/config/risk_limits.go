package config

import (
	"fmt"
	"math"
	"time"
)

// RiskLimits are the thresholds every safety component reads. Fixed for the life of a process.
type RiskLimits struct {
	MaxPositionPctOfCapital   float64  `json:"max_position_pct_of_capital"` // order value / equity, e.g. 0.5
	MaxOpenPositions          int      `json:"max_open_positions"`
	MaxDrawdownTripPct        float64  `json:"max_drawdown_trip_pct"` // fraction in (0,1]
	CooldownDuration          Duration `json:"cooldown_duration"`
	MaxOrderPriceDeviationPct float64  `json:"max_order_price_deviation_pct"` // |limit-market|/market
	MaxLatencyMs              float64  `json:"max_latency_ms"`
	MaxConsecutiveFailures    int      `json:"max_consecutive_failures"`
}

// DefaultRiskLimits mirrors the conservative production profile.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionPctOfCapital:   0.25,
		MaxOpenPositions:          3,
		MaxDrawdownTripPct:        0.15,
		CooldownDuration:          Duration(4 * time.Hour),
		MaxOrderPriceDeviationPct: 0.02,
		MaxLatencyMs:              1500,
		MaxConsecutiveFailures:    3,
	}
}

// Cooldown returns CooldownDuration as a time.Duration.
func (l RiskLimits) Cooldown() time.Duration {
	return l.CooldownDuration.Std()
}

func (l *RiskLimits) setDefaults() {
	def := DefaultRiskLimits()
	if l.MaxPositionPctOfCapital == 0 {
		l.MaxPositionPctOfCapital = def.MaxPositionPctOfCapital
	}
	if l.MaxOpenPositions == 0 {
		l.MaxOpenPositions = def.MaxOpenPositions
	}
	if l.MaxDrawdownTripPct == 0 {
		l.MaxDrawdownTripPct = def.MaxDrawdownTripPct
	}
	if l.CooldownDuration == 0 {
		l.CooldownDuration = def.CooldownDuration
	}
	if l.MaxOrderPriceDeviationPct == 0 {
		l.MaxOrderPriceDeviationPct = def.MaxOrderPriceDeviationPct
	}
	if l.MaxLatencyMs == 0 {
		l.MaxLatencyMs = def.MaxLatencyMs
	}
	if l.MaxConsecutiveFailures == 0 {
		l.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
}

// Validate checks every limit is finite and inside its range.
func (l RiskLimits) Validate() error {
	for name, v := range map[string]float64{
		"max_position_pct_of_capital":   l.MaxPositionPctOfCapital,
		"max_drawdown_trip_pct":         l.MaxDrawdownTripPct,
		"max_order_price_deviation_pct": l.MaxOrderPriceDeviationPct,
		"max_latency_ms":                l.MaxLatencyMs,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite", name)
		}
	}
	if l.MaxPositionPctOfCapital <= 0 || l.MaxPositionPctOfCapital > 1 {
		return fmt.Errorf("max_position_pct_of_capital must be in (0, 1], got %v", l.MaxPositionPctOfCapital)
	}
	if l.MaxOpenPositions < 1 {
		return fmt.Errorf("max_open_positions must be at least 1, got %d", l.MaxOpenPositions)
	}
	if l.MaxDrawdownTripPct <= 0 || l.MaxDrawdownTripPct > 1 {
		return fmt.Errorf("max_drawdown_trip_pct must be in (0, 1], got %v", l.MaxDrawdownTripPct)
	}
	if l.CooldownDuration < 0 {
		return fmt.Errorf("cooldown_duration must not be negative")
	}
	if l.MaxOrderPriceDeviationPct <= 0 {
		return fmt.Errorf("max_order_price_deviation_pct must be greater than 0")
	}
	if l.MaxLatencyMs <= 0 {
		return fmt.Errorf("max_latency_ms must be greater than 0")
	}
	if l.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be at least 1")
	}
	return nil
}
