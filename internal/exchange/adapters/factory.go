package adapters

import (
	"fmt"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/config"
	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange/bybit"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
)

// SupportedExchanges lists the accepted exchange names.
func SupportedExchanges() []string {
	return []string{"paper", "bybit"}
}

// streamMaxAge bounds how old a streamed price may be before REST is used instead.
const streamMaxAge = 30 * time.Second

// NewGateway builds the execution gateway. Dry runs and the "paper" exchange trade
// a simulated account priced from Bybit public market data, so no keys are needed;
// they also return the ticker stream, which the caller must Run.
func NewGateway(cfg config.ExchangeConfig, engine config.EngineConfig, symbols []string, log *logger.Logger) (exchange.Gateway, *bybit.TickerStream, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name != "paper" && name != "bybit" {
		return nil, nil, errors.NewConfigurationError("exchange_factory", "new_gateway",
			fmt.Sprintf("exchange %q is not supported, use one of %v", cfg.Name, SupportedExchanges()))
	}

	client := bybit.NewClient(bybit.Config{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Testnet:   cfg.Testnet,
		Demo:      cfg.Demo,
		Category:  cfg.Category,
	})
	live := bybit.NewGateway(client)

	if name == "paper" || engine.DryRun {
		stream := bybit.NewTickerStream(streamURL(cfg), symbols, streamMaxAge, live, log.With("ticker_stream"))
		log.Info("paper trading %.2f starting equity, prices from Bybit %s (%s)",
			engine.PaperEquity, client.Environment(), client.Category())
		return exchange.NewPaperGateway(stream, engine.PaperEquity), stream, nil
	}

	log.Info("live trading on Bybit %s (%s)", client.Environment(), client.Category())
	return exchange.NewGuardedGateway(live, exchange.DefaultGuardSettings(), log.With("exchange_guard")), nil, nil
}

func streamURL(cfg config.ExchangeConfig) string {
	switch {
	case cfg.Category == "spot":
		return bybit.PublicSpotStream
	case cfg.Testnet:
		return bybit.TestnetLinearStream
	default:
		return bybit.PublicLinearStream
	}
}
