package engine

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

const qtyEpsilon = 1e-12

type lot struct {
	side     safety.Side
	qty      float64
	price    float64
	feeUnit  float64
	openedAt time.Time
}

// positionBook matches fills FIFO into closed round trips. Not safe for concurrent use.
type positionBook struct {
	lots map[string][]lot
}

func newPositionBook() *positionBook {
	return &positionBook{lots: make(map[string][]lot)}
}

// apply books a fill and returns the trades it closed. Realized PnL is net of the
// entry and exit fees attributable to the closed quantity.
func (b *positionBook) apply(ack exchange.OrderAck) []performance.TradeRecord {
	if !ack.Filled || ack.Quantity <= 0 {
		return nil
	}

	remaining := ack.Quantity
	exitFeeUnit := ack.Fee / ack.Quantity
	lots := b.lots[ack.Symbol]
	var closed []performance.TradeRecord

	for len(lots) > 0 && remaining > qtyEpsilon && lots[0].side != ack.Side {
		l := &lots[0]
		qty := math.Min(l.qty, remaining)

		gross := (ack.FillPrice - l.price) * qty
		if l.side == safety.SideSell {
			gross = -gross
		}
		fees := (l.feeUnit + exitFeeUnit) * qty
		closed = append(closed, performance.TradeRecord{
			ID:          uuid.NewString(),
			Symbol:      ack.Symbol,
			OpenedAt:    l.openedAt,
			ClosedAt:    ack.At,
			Side:        l.side,
			EntryPrice:  l.price,
			ExitPrice:   ack.FillPrice,
			Quantity:    qty,
			Fees:        fees,
			RealizedPnL: gross - fees,
		})

		l.qty -= qty
		remaining -= qty
		if l.qty <= qtyEpsilon {
			lots = lots[1:]
		}
	}

	if remaining > qtyEpsilon {
		lots = append(lots, lot{
			side:     ack.Side,
			qty:      remaining,
			price:    ack.FillPrice,
			feeUnit:  exitFeeUnit,
			openedAt: ack.At,
		})
	}

	if len(lots) == 0 {
		delete(b.lots, ack.Symbol)
	} else {
		b.lots[ack.Symbol] = lots
	}
	return closed
}

// net returns the signed quantity and average entry price held in symbol.
func (b *positionBook) net(symbol string) (qty, avgEntry float64) {
	var notional float64
	for _, l := range b.lots[symbol] {
		signed := l.qty
		if l.side == safety.SideSell {
			signed = -signed
		}
		qty += signed
		notional += l.qty * l.price
	}
	if abs := math.Abs(qty); abs > qtyEpsilon {
		avgEntry = notional / abs
	}
	return qty, avgEntry
}

// seed replaces the book with positions reported by the exchange at startup.
func (b *positionBook) seed(positions []exchange.Position, at time.Time) {
	b.lots = make(map[string][]lot, len(positions))
	for _, p := range positions {
		if math.Abs(p.Quantity) <= qtyEpsilon {
			continue
		}
		b.lots[p.Symbol] = []lot{{
			side:     p.Side(),
			qty:      math.Abs(p.Quantity),
			price:    p.EntryPrice,
			openedAt: at,
		}}
	}
}
