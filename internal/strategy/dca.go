package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/config"
)

// DCAStrategy buys a base quote amount, adds progressively larger entries as price
// falls by a progressive threshold, and sells the whole position at take profit.
type DCAStrategy struct {
	cfg config.StrategyConfig

	level          int
	lastEntryPrice float64
	lastTradeAt    time.Time
}

func NewDCAStrategy(cfg config.StrategyConfig) (*DCAStrategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DCAStrategy{cfg: cfg}, nil
}

func (s *DCAStrategy) Name() string {
	return "DCA"
}

func (s *DCAStrategy) Decide(view MarketView) (TradeDecision, error) {
	if view.Price <= 0 || math.IsNaN(view.Price) || math.IsInf(view.Price, 0) {
		return TradeDecision{}, fmt.Errorf("invalid price %v for %s", view.Price, view.Symbol)
	}

	if view.PositionQty > 0 {
		target := view.AverageEntry * (1 + s.cfg.TakeProfitPct)
		if view.Price >= target {
			return TradeDecision{
				Action:   ActionSell,
				Quantity: view.PositionQty,
				Reason:   fmt.Sprintf("take profit: %.4f >= %.4f", view.Price, target),
			}, nil
		}
	}

	if !s.lastTradeAt.IsZero() && view.At.Sub(s.lastTradeAt) < s.cfg.MinInterval.Std() {
		return Hold("too soon since last entry"), nil
	}

	if view.PositionQty <= 0 {
		return TradeDecision{
			Action:   ActionBuy,
			Quantity: s.cfg.BaseAmount / view.Price,
			Reason:   "initial entry",
		}, nil
	}

	if s.level >= s.cfg.MaxEntries {
		return Hold(fmt.Sprintf("max entries %d reached", s.cfg.MaxEntries)), nil
	}
	reference := s.lastEntryPrice
	if reference <= 0 {
		reference = view.AverageEntry
	}
	threshold := s.Threshold(s.level)
	if view.Price > reference*(1-threshold) {
		return Hold(fmt.Sprintf("waiting for %.2f%% drop below %.4f", threshold*100, reference)), nil
	}

	amount := s.cfg.BaseAmount * math.Pow(s.cfg.AmountMultiplier, float64(s.level))
	return TradeDecision{
		Action:   ActionBuy,
		Quantity: amount / view.Price,
		Reason:   fmt.Sprintf("DCA level %d after %.2f%% drop", s.level+1, threshold*100),
	}, nil
}

// Threshold is the price drop required for the entry after level:
// base * multiplier^level, capped at MaxThreshold.
func (s *DCAStrategy) Threshold(level int) float64 {
	threshold := s.cfg.PriceThreshold
	if s.cfg.ThresholdMultiplier > 1 && level > 0 {
		threshold *= math.Pow(s.cfg.ThresholdMultiplier, float64(level))
	}
	if s.cfg.MaxThreshold > 0 {
		threshold = math.Min(threshold, s.cfg.MaxThreshold)
	}
	return threshold
}

func (s *DCAStrategy) OnFill(side TradeAction, quantity, price float64, at time.Time) {
	if side != ActionBuy {
		return
	}
	s.level++
	s.lastEntryPrice = price
	s.lastTradeAt = at
}

func (s *DCAStrategy) OnCycleComplete() {
	s.level = 0
	s.lastEntryPrice = 0
	s.lastTradeAt = time.Time{}
}

// Level is the number of entries in the current cycle.
func (s *DCAStrategy) Level() int {
	return s.level
}
