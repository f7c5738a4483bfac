package safety

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/crypto-risk-core/internal/config"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderRequest is a candidate order. LimitPrice is only read for limit orders.
type OrderRequest struct {
	ClientID    string    `json:"client_id,omitempty"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Type        OrderType `json:"type"`
	Quantity    float64   `json:"quantity"`
	LimitPrice  float64   `json:"limit_price,omitempty"`
	MarketPrice float64   `json:"market_price"`
}

// Value is quantity times the price the order would execute at.
func (r OrderRequest) Value() float64 {
	if r.Type == OrderTypeLimit {
		return r.Quantity * r.LimitPrice
	}
	return r.Quantity * r.MarketPrice
}

// AccountState is the account as the exchange last reported it.
type AccountState struct {
	Equity        float64 `json:"equity"`
	OpenPositions int     `json:"open_positions"`
}

// Gate is the trading permission snapshot the validator checks first.
type Gate struct {
	MayTrade bool
	Healthy  bool
}

type RejectReason string

const (
	ReasonNone                 RejectReason = ""
	ReasonTradingHalted        RejectReason = "trading_halted"
	ReasonDegradedConnectivity RejectReason = "degraded_connectivity"
	ReasonInvalidOrder         RejectReason = "invalid_order"
	ReasonPositionTooLarge     RejectReason = "position_too_large"
	ReasonTooManyPositions     RejectReason = "too_many_positions"
	ReasonPriceDeviation       RejectReason = "price_deviation"
)

// Decision is the validator outcome. A rejection is a normal result, not an error.
type Decision struct {
	Accepted bool         `json:"accepted"`
	Reason   RejectReason `json:"reason,omitempty"`
	Message  string       `json:"message,omitempty"`
}

func Accept() Decision {
	return Decision{Accepted: true}
}

func Reject(reason RejectReason, format string, args ...interface{}) Decision {
	return Decision{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func (d Decision) String() string {
	if d.Accepted {
		return "accepted"
	}
	return "rejected(" + string(d.Reason) + ")"
}

// OrderValidator applies the risk limits to candidate orders. It holds no mutable
// state, so Validate may be called concurrently.
type OrderValidator struct {
	limits config.RiskLimits
}

func NewOrderValidator(limits config.RiskLimits) *OrderValidator {
	return &OrderValidator{limits: limits}
}

// Validate runs the checks in a fixed order and stops at the first failure.
func (v *OrderValidator) Validate(req OrderRequest, account AccountState, gate Gate) Decision {
	if !gate.MayTrade {
		return Reject(ReasonTradingHalted, "trading is halted")
	}
	if !gate.Healthy {
		return Reject(ReasonDegradedConnectivity, "exchange connectivity degraded")
	}
	if d := v.validateNumbers(req); !d.Accepted {
		return d
	}

	value := req.Value()
	if account.Equity <= 0 || math.IsNaN(account.Equity) || math.IsInf(account.Equity, 0) {
		return Reject(ReasonPositionTooLarge, "account equity %.2f leaves no capital for an order of %.2f", account.Equity, value)
	}
	if value/account.Equity > v.limits.MaxPositionPctOfCapital {
		return Reject(ReasonPositionTooLarge, "order value %.2f is %.2f%% of equity %.2f, limit %.2f%%",
			value, value/account.Equity*100, account.Equity, v.limits.MaxPositionPctOfCapital*100)
	}

	if account.OpenPositions >= v.limits.MaxOpenPositions {
		return Reject(ReasonTooManyPositions, "%d open positions, limit %d", account.OpenPositions, v.limits.MaxOpenPositions)
	}

	if req.Type == OrderTypeLimit {
		deviation := math.Abs(req.LimitPrice-req.MarketPrice) / req.MarketPrice
		if deviation > v.limits.MaxOrderPriceDeviationPct {
			return Reject(ReasonPriceDeviation, "limit %.8f deviates %.4f%% from market %.8f, limit %.4f%%",
				req.LimitPrice, deviation*100, req.MarketPrice, v.limits.MaxOrderPriceDeviationPct*100)
		}
	}

	return Accept()
}

func (v *OrderValidator) validateNumbers(req OrderRequest) Decision {
	if !positiveFinite(req.Quantity) {
		return Reject(ReasonInvalidOrder, "invalid quantity %v for %s", req.Quantity, req.Symbol)
	}
	if !positiveFinite(req.MarketPrice) {
		return Reject(ReasonInvalidOrder, "invalid market price %v for %s", req.MarketPrice, req.Symbol)
	}
	switch req.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if !positiveFinite(req.LimitPrice) {
			return Reject(ReasonInvalidOrder, "invalid limit price %v for %s", req.LimitPrice, req.Symbol)
		}
	default:
		return Reject(ReasonInvalidOrder, "unknown order type %q", req.Type)
	}
	return Accept()
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
