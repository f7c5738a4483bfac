package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-core/internal/config"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange/bybit"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
)

func TestNewGateway(t *testing.T) {
	engine := config.Default().Engine

	symbols := []string{"BTCUSDT"}

	gw, stream, err := NewGateway(config.ExchangeConfig{Name: "paper"}, engine, symbols, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &exchange.PaperGateway{}, gw)
	assert.NotNil(t, stream)

	gw, stream, err = NewGateway(config.ExchangeConfig{Name: "bybit", Testnet: true, APIKey: "k", APISecret: "s"}, engine, symbols, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &exchange.GuardedGateway{}, gw)
	assert.Nil(t, stream)
	assert.Equal(t, "bybit-testnet", gw.Name())

	engine.DryRun = true
	gw, _, err = NewGateway(config.ExchangeConfig{Name: "Bybit"}, engine, symbols, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &exchange.PaperGateway{}, gw, "dry runs never reach a live account")

	_, _, err = NewGateway(config.ExchangeConfig{Name: "binance"}, engine, symbols, logger.Discard())
	assert.Error(t, err)
}

func TestStreamURL(t *testing.T) {
	assert.Equal(t, bybit.PublicSpotStream, streamURL(config.ExchangeConfig{Category: "spot"}))
	assert.Equal(t, bybit.TestnetLinearStream, streamURL(config.ExchangeConfig{Category: "linear", Testnet: true}))
	assert.Equal(t, bybit.PublicLinearStream, streamURL(config.ExchangeConfig{Category: "linear"}))
}
