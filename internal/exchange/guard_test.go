package exchange

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

func TestGuardedGateway_OpensAfterFailures(t *testing.T) {
	feed := NewStaticFeed(map[string]float64{"BTCUSDT": 100})
	guard := NewGuardedGateway(NewPaperGateway(feed, 1000), GuardSettings{
		MinRequests:  3,
		FailureRatio: 1,
		OpenTimeout:  time.Hour,
	}, nil)
	ctx := context.Background()

	feed.Fail(stderrors.New("connection refused"))
	for i := 0; i < 3; i++ {
		_, err := guard.MarketPrice(ctx, "BTCUSDT")
		require.Error(t, err)
		assert.False(t, stderrors.Is(err, ErrExchangeUnavailable))
	}
	assert.Equal(t, "open", guard.State())

	// the exchange has recovered but the guard has not timed out yet
	feed.Fail(nil)
	_, err := guard.MarketPrice(ctx, "BTCUSDT")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrExchangeUnavailable))
	var botErr *errors.BotError
	require.True(t, stderrors.As(err, &botErr))
	assert.Equal(t, errors.ErrorCategoryExchange, botErr.Category)

	// emergency paths bypass the guard
	assert.NoError(t, guard.CancelAll(ctx, ""))
	_, err = guard.FlattenAll(ctx)
	assert.NoError(t, err)
}

func TestGuardedGateway_RejectionsDoNotTrip(t *testing.T) {
	feed := NewStaticFeed(map[string]float64{"BTCUSDT": 100})
	guard := NewGuardedGateway(NewPaperGateway(feed, 1000), GuardSettings{MinRequests: 2, FailureRatio: 0.5}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := guard.SubmitOrder(ctx, safety.OrderRequest{Symbol: "BTCUSDT", Side: safety.SideBuy, Type: safety.OrderTypeMarket, Quantity: -1})
		require.Error(t, err)
	}
	assert.Equal(t, "closed", guard.State())

	ack, err := guard.SubmitOrder(ctx, safety.OrderRequest{Symbol: "BTCUSDT", Side: safety.SideBuy, Type: safety.OrderTypeMarket, Quantity: 1})
	require.NoError(t, err)
	assert.True(t, ack.Filled)
	assert.Equal(t, "paper", guard.Name())
}
