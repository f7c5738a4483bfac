package safety

import (
	"math"
	"testing"

	"github.com/ducminhle1904/crypto-risk-core/internal/config"
	"github.com/stretchr/testify/assert"
)

func testLimits() config.RiskLimits {
	limits := config.DefaultRiskLimits()
	limits.MaxPositionPctOfCapital = 0.5
	limits.MaxOpenPositions = 2
	limits.MaxOrderPriceDeviationPct = 0.01
	return limits
}

var openGate = Gate{MayTrade: true, Healthy: true}

func marketOrder(qty, price float64) OrderRequest {
	return OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeMarket, Quantity: qty, MarketPrice: price}
}

// 600 of 1000 equity against a 50% cap
func TestValidate_PositionTooLarge(t *testing.T) {
	v := NewOrderValidator(testLimits())
	d := v.Validate(marketOrder(6, 100), AccountState{Equity: 1000}, openGate)
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonPositionTooLarge, d.Reason)

	d = v.Validate(marketOrder(5, 100), AccountState{Equity: 1000}, openGate)
	assert.True(t, d.Accepted)
}

func TestValidate_CheckOrder(t *testing.T) {
	v := NewOrderValidator(testLimits())
	// every check would fail; the first one wins
	bad := OrderRequest{Symbol: "BTCUSDT", Type: OrderTypeLimit, Quantity: 100, LimitPrice: 200, MarketPrice: 100}
	crowded := AccountState{Equity: 10, OpenPositions: 5}

	tests := []struct {
		name     string
		gate     Gate
		req      OrderRequest
		account  AccountState
		expected RejectReason
	}{
		{"halted beats everything", Gate{MayTrade: false, Healthy: false}, bad, crowded, ReasonTradingHalted},
		{"connectivity next", Gate{MayTrade: true, Healthy: false}, bad, crowded, ReasonDegradedConnectivity},
		{"malformed before sizing", openGate, marketOrder(math.NaN(), 100), crowded, ReasonInvalidOrder},
		{"sizing before count", openGate, bad, crowded, ReasonPositionTooLarge},
		{"count before deviation", openGate, OrderRequest{Type: OrderTypeLimit, Quantity: 1, LimitPrice: 200, MarketPrice: 100},
			AccountState{Equity: 1000, OpenPositions: 2}, ReasonTooManyPositions},
		{"deviation last", openGate, OrderRequest{Type: OrderTypeLimit, Quantity: 1, LimitPrice: 102, MarketPrice: 100},
			AccountState{Equity: 1000}, ReasonPriceDeviation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := v.Validate(tt.req, tt.account, tt.gate)
			assert.False(t, d.Accepted)
			assert.Equal(t, tt.expected, d.Reason)
			assert.NotEmpty(t, d.Message)
		})
	}
}

func TestValidate_LimitWithinDeviation(t *testing.T) {
	v := NewOrderValidator(testLimits())
	req := OrderRequest{Symbol: "BTCUSDT", Type: OrderTypeLimit, Quantity: 1, LimitPrice: 100.9, MarketPrice: 100}
	d := v.Validate(req, AccountState{Equity: 1000}, openGate)
	assert.True(t, d.Accepted)
	assert.Equal(t, "accepted", d.String())
}

// Market orders are never subject to the deviation check
func TestValidate_MarketIgnoresLimitPrice(t *testing.T) {
	v := NewOrderValidator(testLimits())
	req := marketOrder(1, 100)
	req.LimitPrice = 500
	assert.True(t, v.Validate(req, AccountState{Equity: 1000}, openGate).Accepted)
}

func TestValidate_NonPositiveEquity(t *testing.T) {
	v := NewOrderValidator(testLimits())
	d := v.Validate(marketOrder(1, 1), AccountState{Equity: 0}, openGate)
	assert.Equal(t, ReasonPositionTooLarge, d.Reason)
}

func TestValidate_InvalidInputs(t *testing.T) {
	v := NewOrderValidator(testLimits())
	account := AccountState{Equity: 1000}
	for name, req := range map[string]OrderRequest{
		"zero qty":     marketOrder(0, 100),
		"inf price":    marketOrder(1, math.Inf(1)),
		"limit no px":  {Type: OrderTypeLimit, Quantity: 1, MarketPrice: 100},
		"unknown type": {Type: "STOP", Quantity: 1, MarketPrice: 100},
		"negative qty": marketOrder(-1, 100),
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, ReasonInvalidOrder, v.Validate(req, account, openGate).Reason)
		})
	}
}

// Same inputs always give the same decision
func TestValidate_Deterministic(t *testing.T) {
	v := NewOrderValidator(testLimits())
	req := marketOrder(6, 100)
	first := v.Validate(req, AccountState{Equity: 1000}, openGate)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, v.Validate(req, AccountState{Equity: 1000}, openGate))
	}
}
