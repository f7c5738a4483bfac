package exchange

import (
	"context"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

// Gateway is the execution layer the engine drives. Every call is a network round
// trip on live exchanges and is timed by the caller for connectivity monitoring.
type Gateway interface {
	Name() string
	Equity(ctx context.Context) (float64, error)
	MarketPrice(ctx context.Context, symbol string) (float64, error)
	Positions(ctx context.Context) ([]Position, error)
	SubmitOrder(ctx context.Context, req safety.OrderRequest) (OrderAck, error)
	CancelAll(ctx context.Context, symbol string) error
	// FlattenAll closes every open position at market.
	FlattenAll(ctx context.Context) ([]OrderAck, error)
}

// PriceFeed supplies mark prices to gateways that do not own a market.
type PriceFeed interface {
	MarketPrice(ctx context.Context, symbol string) (float64, error)
}

// Position is a net position. Quantity is positive for longs and negative for shorts.
type Position struct {
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
}

func (p Position) Side() safety.Side {
	if p.Quantity < 0 {
		return safety.SideSell
	}
	return safety.SideBuy
}

// OrderAck is the exchange acknowledgement of a submitted order. FillPrice is the
// execution price when Filled, otherwise the price the order rests at.
type OrderAck struct {
	OrderID   string           `json:"order_id"`
	ClientID  string           `json:"client_id"`
	Symbol    string           `json:"symbol"`
	Side      safety.Side      `json:"side"`
	Type      safety.OrderType `json:"type"`
	Quantity  float64          `json:"quantity"`
	FillPrice float64          `json:"fill_price"`
	Fee       float64          `json:"fee"`
	Filled    bool             `json:"filled"`
	At        time.Time        `json:"at"`
}
