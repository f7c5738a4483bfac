package exchange

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

func newPaper(t *testing.T) (*PaperGateway, *StaticFeed) {
	t.Helper()
	feed := NewStaticFeed(map[string]float64{"BTCUSDT": 100})
	return NewPaperGateway(feed, 1000, WithFeeRate(0)), feed
}

func TestPaperGateway_MarketOrderMarksEquity(t *testing.T) {
	g, feed := newPaper(t)
	ctx := context.Background()

	ack, err := g.SubmitOrder(ctx, safety.OrderRequest{Symbol: "BTCUSDT", Side: safety.SideBuy, Type: safety.OrderTypeMarket, Quantity: 2})
	require.NoError(t, err)
	assert.True(t, ack.Filled)
	assert.Equal(t, 100.0, ack.FillPrice)
	assert.NotEmpty(t, ack.OrderID)
	assert.InDelta(t, 800.0, g.Cash(), 1e-9)

	feed.Set("BTCUSDT", 150)
	equity, err := g.Equity(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1100.0, equity, 1e-9)
}

func TestPaperGateway_AveragesEntry(t *testing.T) {
	g, feed := newPaper(t)
	ctx := context.Background()
	buy := safety.OrderRequest{Symbol: "BTCUSDT", Side: safety.SideBuy, Type: safety.OrderTypeMarket, Quantity: 1}

	_, err := g.SubmitOrder(ctx, buy)
	require.NoError(t, err)
	feed.Set("BTCUSDT", 80)
	_, err = g.SubmitOrder(ctx, buy)
	require.NoError(t, err)

	positions, err := g.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 2.0, positions[0].Quantity, 1e-12)
	assert.InDelta(t, 90.0, positions[0].EntryPrice, 1e-9)
	assert.Equal(t, safety.SideBuy, positions[0].Side())
}

func TestPaperGateway_LimitOrderRestsUntilCrossed(t *testing.T) {
	g, feed := newPaper(t)
	ctx := context.Background()

	ack, err := g.SubmitOrder(ctx, safety.OrderRequest{Symbol: "BTCUSDT", Side: safety.SideBuy, Type: safety.OrderTypeLimit, Quantity: 1, LimitPrice: 95})
	require.NoError(t, err)
	assert.False(t, ack.Filled)

	feed.Set("BTCUSDT", 94)
	_, err = g.MarketPrice(ctx, "BTCUSDT")
	require.NoError(t, err)

	positions, _ := g.Positions(ctx)
	require.Len(t, positions, 1)
	assert.Equal(t, 95.0, positions[0].EntryPrice)
}

func TestPaperGateway_CancelAllDropsResting(t *testing.T) {
	g, feed := newPaper(t)
	ctx := context.Background()

	_, err := g.SubmitOrder(ctx, safety.OrderRequest{Symbol: "BTCUSDT", Side: safety.SideSell, Type: safety.OrderTypeLimit, Quantity: 1, LimitPrice: 120})
	require.NoError(t, err)
	require.NoError(t, g.CancelAll(ctx, "BTCUSDT"))

	feed.Set("BTCUSDT", 130)
	_, err = g.MarketPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	positions, _ := g.Positions(ctx)
	assert.Empty(t, positions)
}

func TestPaperGateway_FlattenAll(t *testing.T) {
	g, feed := newPaper(t)
	ctx := context.Background()
	feed.Set("ETHUSDT", 10)

	_, err := g.SubmitOrder(ctx, safety.OrderRequest{Symbol: "BTCUSDT", Side: safety.SideBuy, Type: safety.OrderTypeMarket, Quantity: 1})
	require.NoError(t, err)
	_, err = g.SubmitOrder(ctx, safety.OrderRequest{Symbol: "ETHUSDT", Side: safety.SideSell, Type: safety.OrderTypeMarket, Quantity: 5})
	require.NoError(t, err)

	acks, err := g.FlattenAll(ctx)
	require.NoError(t, err)
	require.Len(t, acks, 2)
	assert.Equal(t, safety.SideSell, acks[0].Side, "BTC long is sold")
	assert.Equal(t, safety.SideBuy, acks[1].Side, "ETH short is bought back")

	positions, _ := g.Positions(ctx)
	assert.Empty(t, positions)
	assert.InDelta(t, 1000.0, g.Cash(), 1e-9)
}

func TestPaperGateway_Errors(t *testing.T) {
	g, feed := newPaper(t)
	ctx := context.Background()

	_, err := g.SubmitOrder(ctx, safety.OrderRequest{Symbol: "BTCUSDT", Side: safety.SideBuy, Type: safety.OrderTypeMarket, Quantity: 0})
	assert.Error(t, err)

	feed.Fail(stderrors.New("connection refused"))
	_, err = g.MarketPrice(ctx, "BTCUSDT")
	assert.Error(t, err)
	_, err = g.SubmitOrder(ctx, safety.OrderRequest{Symbol: "BTCUSDT", Side: safety.SideBuy, Type: safety.OrderTypeMarket, Quantity: 1})
	assert.Error(t, err)
}
