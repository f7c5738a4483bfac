package exchange

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

// ErrExchangeUnavailable is returned while the call guard is open.
var ErrExchangeUnavailable = stderrors.New("exchange unavailable: call guard open")

// GuardSettings tunes the per-call guard. It is independent of the drawdown breaker:
// it only sheds calls to an exchange that keeps failing.
type GuardSettings struct {
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration // time open before a half-open probe
	Window       time.Duration // closed-state counting window, 0 = never reset
	MaxProbes    uint32
}

func DefaultGuardSettings() GuardSettings {
	return GuardSettings{
		MinRequests:  5,
		FailureRatio: 0.6,
		OpenTimeout:  30 * time.Second,
		Window:       time.Minute,
		MaxProbes:    1,
	}
}

// GuardedGateway fails fast while the wrapped gateway keeps failing. CancelAll and
// FlattenAll always reach the exchange.
type GuardedGateway struct {
	inner Gateway
	cb    *gobreaker.CircuitBreaker
}

var _ Gateway = (*GuardedGateway)(nil)

func NewGuardedGateway(inner Gateway, st GuardSettings, log *logger.Logger) *GuardedGateway {
	if log == nil {
		log = logger.Discard()
	}
	def := DefaultGuardSettings()
	if st.MinRequests == 0 {
		st.MinRequests = def.MinRequests
	}
	if st.FailureRatio <= 0 {
		st.FailureRatio = def.FailureRatio
	}
	if st.MaxProbes == 0 {
		st.MaxProbes = def.MaxProbes
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: st.MaxProbes,
		Interval:    st.Window,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= st.MinRequests && ratio >= st.FailureRatio
		},
		// Rejected orders are the exchange working correctly.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var botErr *errors.BotError
			return stderrors.As(err, &botErr) && botErr.Category == errors.ErrorCategoryValidation
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warning("exchange call guard %s: %s -> %s", name, from, to)
		},
	})
	return &GuardedGateway{inner: inner, cb: cb}
}

func guarded[T any](g *GuardedGateway, op string, fn func() (T, error)) (T, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, errors.NewExchangeError("exchange_guard", op, ErrExchangeUnavailable)
		}
		return zero, err
	}
	return res.(T), nil
}

func (g *GuardedGateway) Name() string {
	return g.inner.Name()
}

// State is the guard state: "closed", "half-open" or "open".
func (g *GuardedGateway) State() string {
	return g.cb.State().String()
}

func (g *GuardedGateway) Equity(ctx context.Context) (float64, error) {
	return guarded(g, "equity", func() (float64, error) { return g.inner.Equity(ctx) })
}

func (g *GuardedGateway) MarketPrice(ctx context.Context, symbol string) (float64, error) {
	return guarded(g, "market_price", func() (float64, error) { return g.inner.MarketPrice(ctx, symbol) })
}

func (g *GuardedGateway) Positions(ctx context.Context) ([]Position, error) {
	return guarded(g, "positions", func() ([]Position, error) { return g.inner.Positions(ctx) })
}

func (g *GuardedGateway) SubmitOrder(ctx context.Context, req safety.OrderRequest) (OrderAck, error) {
	return guarded(g, "submit_order", func() (OrderAck, error) { return g.inner.SubmitOrder(ctx, req) })
}

func (g *GuardedGateway) CancelAll(ctx context.Context, symbol string) error {
	return g.inner.CancelAll(ctx, symbol)
}

func (g *GuardedGateway) FlattenAll(ctx context.Context) ([]OrderAck, error) {
	return g.inner.FlattenAll(ctx)
}
