package exchange

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

const defaultPaperFeeRate = 0.001

// PaperGateway simulates an account against an external price feed. Market orders
// fill at the feed price; limit orders fill when the feed crosses them.
type PaperGateway struct {
	mu        sync.Mutex
	feed      PriceFeed
	cash      float64
	feeRate   float64
	positions map[string]*Position
	resting   []OrderAck
	now       func() time.Time
}

type PaperOption func(*PaperGateway)

func WithFeeRate(rate float64) PaperOption {
	return func(g *PaperGateway) { g.feeRate = rate }
}

func WithPaperClock(now func() time.Time) PaperOption {
	return func(g *PaperGateway) { g.now = now }
}

func NewPaperGateway(feed PriceFeed, startingCash float64, opts ...PaperOption) *PaperGateway {
	g := &PaperGateway{
		feed:      feed,
		cash:      startingCash,
		feeRate:   defaultPaperFeeRate,
		positions: make(map[string]*Position),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *PaperGateway) Name() string {
	return "paper"
}

// Equity marks every open position to the feed.
func (g *PaperGateway) Equity(ctx context.Context) (float64, error) {
	g.mu.Lock()
	symbols := make([]string, 0, len(g.positions))
	for sym := range g.positions {
		symbols = append(symbols, sym)
	}
	g.mu.Unlock()

	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		price, err := g.feed.MarketPrice(ctx, sym)
		if err != nil {
			return 0, err
		}
		prices[sym] = price
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	equity := g.cash
	for sym, pos := range g.positions {
		price, ok := prices[sym]
		if !ok {
			// opened after prices were read
			price = pos.EntryPrice
		}
		equity += pos.Quantity * price
	}
	return equity, nil
}

// MarketPrice reads the feed and fills resting limit orders the price has crossed.
func (g *PaperGateway) MarketPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := g.feed.MarketPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.resting[:0]
	for _, order := range g.resting {
		if order.Symbol == symbol && crosses(order.Side, order.FillPrice, price) {
			g.fillLocked(&order, order.FillPrice)
			continue
		}
		kept = append(kept, order)
	}
	g.resting = kept
	return price, nil
}

func (g *PaperGateway) Positions(ctx context.Context) ([]Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Position, 0, len(g.positions))
	for _, pos := range g.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (g *PaperGateway) SubmitOrder(ctx context.Context, req safety.OrderRequest) (OrderAck, error) {
	if req.Quantity <= 0 || math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0) {
		return OrderAck{}, errors.NewValidationError("paper_gateway", "submit_order",
			fmt.Sprintf("invalid quantity %v", req.Quantity))
	}
	price, err := g.feed.MarketPrice(ctx, req.Symbol)
	if err != nil {
		return OrderAck{}, errors.NewExchangeError("paper_gateway", "submit_order", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ack := OrderAck{
		OrderID:  uuid.NewString(),
		ClientID: req.ClientID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Quantity: req.Quantity,
		At:       g.now(),
	}
	if req.Type == safety.OrderTypeLimit && !crosses(req.Side, req.LimitPrice, price) {
		ack.FillPrice = req.LimitPrice
		g.resting = append(g.resting, ack)
		return ack, nil
	}
	g.fillLocked(&ack, price)
	return ack, nil
}

func (g *PaperGateway) CancelAll(ctx context.Context, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.resting[:0]
	for _, order := range g.resting {
		if symbol != "" && order.Symbol != symbol {
			kept = append(kept, order)
		}
	}
	g.resting = kept
	return nil
}

func (g *PaperGateway) FlattenAll(ctx context.Context) ([]OrderAck, error) {
	positions, _ := g.Positions(ctx)

	acks := make([]OrderAck, 0, len(positions))
	for _, pos := range positions {
		side := safety.SideSell
		if pos.Quantity < 0 {
			side = safety.SideBuy
		}
		ack, err := g.SubmitOrder(ctx, safety.OrderRequest{
			Symbol:   pos.Symbol,
			Side:     side,
			Type:     safety.OrderTypeMarket,
			Quantity: math.Abs(pos.Quantity),
		})
		if err != nil {
			return acks, err
		}
		acks = append(acks, ack)
	}
	return acks, nil
}

// Cash is the unencumbered quote balance.
func (g *PaperGateway) Cash() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cash
}

func (g *PaperGateway) fillLocked(ack *OrderAck, price float64) {
	notional := ack.Quantity * price
	fee := notional * g.feeRate
	signed := ack.Quantity
	if ack.Side == safety.SideSell {
		signed = -signed
	}

	g.cash -= signed*price + fee
	ack.FillPrice = price
	ack.Fee = fee
	ack.Filled = true

	pos, ok := g.positions[ack.Symbol]
	if !ok {
		g.positions[ack.Symbol] = &Position{Symbol: ack.Symbol, Quantity: signed, EntryPrice: price}
		return
	}

	next := pos.Quantity + signed
	switch {
	case math.Abs(next) < 1e-12:
		delete(g.positions, ack.Symbol)
		return
	case pos.Quantity*signed > 0:
		pos.EntryPrice = (pos.EntryPrice*math.Abs(pos.Quantity) + price*math.Abs(signed)) / math.Abs(next)
	case pos.Quantity*next < 0:
		// flipped through zero
		pos.EntryPrice = price
	}
	pos.Quantity = next
}

func crosses(side safety.Side, limit, market float64) bool {
	if side == safety.SideBuy {
		return market <= limit
	}
	return market >= limit
}

// StaticFeed is a settable in-memory price feed.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]float64
	err    error
}

func NewStaticFeed(prices map[string]float64) *StaticFeed {
	f := &StaticFeed{prices: make(map[string]float64, len(prices))}
	for k, v := range prices {
		f.prices[k] = v
	}
	return f
}

func (f *StaticFeed) Set(symbol string, price float64) {
	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()
}

// Fail makes every subsequent read return err until cleared with nil.
func (f *StaticFeed) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *StaticFeed) MarketPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return 0, f.err
	}
	price, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}
