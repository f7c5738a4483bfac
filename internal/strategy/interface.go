package strategy

import (
	"time"
)

// Strategy proposes at most one order per trading cycle. Every proposal still
// passes the risk manager before it reaches the exchange.
type Strategy interface {
	Name() string
	Decide(view MarketView) (TradeDecision, error)
	// OnFill reports an executed order so the strategy can track its cycle.
	OnFill(side TradeAction, quantity, price float64, at time.Time)
	// OnCycleComplete is called when the position returns to flat.
	OnCycleComplete()
}

// MarketView is what a strategy sees each cycle.
type MarketView struct {
	Symbol       string
	Price        float64
	Equity       float64
	PositionQty  float64
	AverageEntry float64
	At           time.Time
}

type TradeAction int

const (
	ActionHold TradeAction = iota
	ActionBuy
	ActionSell
)

func (ta TradeAction) String() string {
	switch ta {
	case ActionHold:
		return "HOLD"
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// TradeDecision is a strategy proposal; Quantity is in base units.
type TradeDecision struct {
	Action   TradeAction
	Quantity float64
	Reason   string
}

func Hold(reason string) TradeDecision {
	return TradeDecision{Action: ActionHold, Reason: reason}
}
