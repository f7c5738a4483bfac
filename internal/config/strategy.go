package config

import (
	"fmt"
)

// StrategyConfig parameterizes the DCA order source.
type StrategyConfig struct {
	BaseAmount          float64  `json:"base_amount"`          // quote amount of the first entry
	AmountMultiplier    float64  `json:"amount_multiplier"`    // entry size growth per level
	PriceThreshold      float64  `json:"price_threshold"`      // drop required for the next entry
	ThresholdMultiplier float64  `json:"threshold_multiplier"` // threshold growth per level
	MaxThreshold        float64  `json:"max_threshold"`
	TakeProfitPct       float64  `json:"take_profit_pct"`
	MaxEntries          int      `json:"max_entries"`
	MinInterval         Duration `json:"min_interval"`
}

func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		BaseAmount:          100,
		AmountMultiplier:    1.5,
		PriceThreshold:      0.01,
		ThresholdMultiplier: 1.15,
		MaxThreshold:        0.2,
		TakeProfitPct:       0.02,
		MaxEntries:          5,
	}
}

func (s *StrategyConfig) setDefaults() {
	d := DefaultStrategyConfig()
	if s.BaseAmount == 0 {
		s.BaseAmount = d.BaseAmount
	}
	if s.AmountMultiplier == 0 {
		s.AmountMultiplier = d.AmountMultiplier
	}
	if s.PriceThreshold == 0 {
		s.PriceThreshold = d.PriceThreshold
	}
	if s.ThresholdMultiplier == 0 {
		s.ThresholdMultiplier = d.ThresholdMultiplier
	}
	if s.MaxThreshold == 0 {
		s.MaxThreshold = d.MaxThreshold
	}
	if s.TakeProfitPct == 0 {
		s.TakeProfitPct = d.TakeProfitPct
	}
	if s.MaxEntries == 0 {
		s.MaxEntries = d.MaxEntries
	}
}

func (s StrategyConfig) Validate() error {
	switch {
	case s.BaseAmount <= 0:
		return fmt.Errorf("base_amount must be positive, got %v", s.BaseAmount)
	case s.AmountMultiplier < 1:
		return fmt.Errorf("amount_multiplier must be >= 1, got %v", s.AmountMultiplier)
	case s.PriceThreshold <= 0 || s.PriceThreshold >= 1:
		return fmt.Errorf("price_threshold must be in (0, 1), got %v", s.PriceThreshold)
	case s.ThresholdMultiplier < 1:
		return fmt.Errorf("threshold_multiplier must be >= 1, got %v", s.ThresholdMultiplier)
	case s.TakeProfitPct <= 0:
		return fmt.Errorf("take_profit_pct must be positive, got %v", s.TakeProfitPct)
	case s.MaxEntries < 1:
		return fmt.Errorf("max_entries must be at least 1, got %d", s.MaxEntries)
	case s.MinInterval < 0:
		return fmt.Errorf("min_interval must not be negative")
	}
	return nil
}
