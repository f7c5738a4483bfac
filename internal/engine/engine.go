package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/recovery"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
	"github.com/ducminhle1904/crypto-risk-core/internal/strategy"
)

const (
	// ReasonErrorBudget is the emergency stop reason when consecutive cycle failures exhaust the budget.
	ReasonErrorBudget = "error_budget_exhausted"

	defaultCycleTimeout = 30 * time.Second
	exitSliceHeadroom   = 0.999
	component           = "engine"
)

// Recorder counts executions and failures. *monitoring.Metrics satisfies it.
type Recorder interface {
	RecordTrade(symbol string, side safety.Side)
	RecordError(category string)
}

// ErrorReporter surfaces cycle failures on the health endpoint.
type ErrorReporter interface {
	ReportError(msg string)
}

// Options wires an Engine. Gateway, Strategy and Risk are required.
type Options struct {
	Symbol             string
	Interval           time.Duration
	RollupInterval     time.Duration
	CheckpointInterval time.Duration
	CycleTimeout       time.Duration

	Gateway  exchange.Gateway
	Strategy strategy.Strategy
	Risk     *risk.Manager
	Recovery *recovery.Handler
	Metrics  Recorder
	Health   ErrorReporter
	Logger   *logger.Logger
	Clock    risk.Clock
}

// Stats describes the trading loop for the control API.
type Stats struct {
	Running         bool      `json:"running"`
	Exchange        string    `json:"exchange"`
	Symbol          string    `json:"symbol"`
	Strategy        string    `json:"strategy"`
	Cycles          int64     `json:"cycles"`
	GatedCycles     int64     `json:"gated_cycles"`
	FailedCycles    int64     `json:"failed_cycles"`
	OrdersSubmitted int64     `json:"orders_submitted"`
	OrdersRejected  int64     `json:"orders_rejected"`
	Fills           int64     `json:"fills"`
	TradesClosed    int64     `json:"trades_closed"`
	Flattens        int64     `json:"flattens"`
	PositionQty     float64   `json:"position_qty"`
	AverageEntry    float64   `json:"average_entry"`
	LastCycleAt     time.Time `json:"last_cycle_at,omitempty"`
	LastDecision    string    `json:"last_decision,omitempty"`
	LastError       string    `json:"last_error,omitempty"`

	Recovery recovery.Stats `json:"recovery"`
}

// Engine runs the trading loop: it feeds exchange observations to the risk manager,
// asks the strategy for an order, and submits only what the risk manager admits.
// Cycles and emergency flattening are serialized.
type Engine struct {
	symbol             string
	interval           time.Duration
	rollupInterval     time.Duration
	checkpointInterval time.Duration
	cycleTimeout       time.Duration

	gateway  exchange.Gateway
	strategy strategy.Strategy
	risk     *risk.Manager
	recovery *recovery.Handler
	metrics  Recorder
	health   ErrorReporter
	log      *logger.Logger
	clock    risk.Clock

	cycleMu sync.Mutex
	book    *positionBook
	seeded  bool

	statsMu sync.RWMutex
	stats   Stats
}

func New(opts Options) (*Engine, error) {
	if opts.Gateway == nil || opts.Strategy == nil || opts.Risk == nil {
		return nil, errors.NewConfigurationError(component, "new", "gateway, strategy and risk manager are required")
	}
	if opts.Symbol == "" {
		return nil, errors.NewConfigurationError(component, "new", "symbol is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = defaultCycleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Recovery == nil {
		opts.Recovery = recovery.NewHandler(recovery.DefaultConfig(), opts.Logger)
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Health == nil {
		opts.Health = nopReporter{}
	}
	if opts.Clock == nil {
		opts.Clock = risk.SystemClock()
	}

	return &Engine{
		symbol:             opts.Symbol,
		interval:           opts.Interval,
		rollupInterval:     opts.RollupInterval,
		checkpointInterval: opts.CheckpointInterval,
		cycleTimeout:       opts.CycleTimeout,
		gateway:            opts.Gateway,
		strategy:           opts.Strategy,
		risk:               opts.Risk,
		recovery:           opts.Recovery,
		metrics:            opts.Metrics,
		health:             opts.Health,
		log:                opts.Logger.With("ENGINE"),
		clock:              opts.Clock,
		book:               newPositionBook(),
		stats: Stats{
			Exchange: opts.Gateway.Name(),
			Symbol:   opts.Symbol,
			Strategy: opts.Strategy.Name(),
		},
	}, nil
}

// Run executes a cycle immediately and then every interval until ctx ends. Rollup
// snapshots and checkpoints run on their own tickers when their intervals are set.
func (e *Engine) Run(ctx context.Context) error {
	e.updateStats(func(s *Stats) { s.Running = true })
	defer e.updateStats(func(s *Stats) { s.Running = false })

	e.log.Status("trading loop started: %s %s on %s every %s", e.strategy.Name(), e.symbol, e.gateway.Name(), e.interval)
	e.runCycle(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	rollupC, stopRollup := optionalTicker(e.rollupInterval)
	defer stopRollup()
	checkpointC, stopCheckpoint := optionalTicker(e.checkpointInterval)
	defer stopCheckpoint()

	for {
		select {
		case <-ctx.Done():
			e.log.Status("trading loop stopped")
			return nil
		case <-ticker.C:
			e.runCycle(ctx)
		case <-rollupC:
			if snap, err := e.risk.RollupSnapshot(ctx); err != nil {
				e.log.LogError("rollup snapshot", err)
			} else {
				e.log.Info("performance: %d trades, win rate %.1f%%, ROI %.2f%%",
					snap.TradeCount, snap.WinRate*100, snap.ROIPct*100)
			}
		case <-checkpointC:
			if err := e.risk.Checkpoint(ctx); err != nil {
				e.log.LogError("checkpoint", err)
			}
		}
	}
}

func optionalTicker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// runCycle executes one cycle and routes its failure through the recovery handler.
// An exhausted error budget raises the emergency stop and flattens.
func (e *Engine) runCycle(ctx context.Context) {
	err := e.safeTick(ctx)
	if err == nil {
		e.recovery.RecordSuccess()
		return
	}
	if ctx.Err() != nil {
		return
	}

	result := e.recovery.HandleCycleError(err, component, "cycle")
	e.metrics.RecordError(string(result.Category))
	e.health.ReportError(err.Error())
	e.updateStats(func(s *Stats) {
		s.FailedCycles++
		s.LastError = err.Error()
	})
	e.log.LogWarning("cycle failed", "%s", result.Message)

	if result.ShouldStop {
		reason := ReasonErrorBudget
		if botErr := errors.CategorizeError(err, component, "cycle"); botErr.IsFatal() {
			reason = fmt.Sprintf("fatal_%s", botErr.Component)
		}
		if _, err := e.Halt(ctx, reason); err != nil {
			e.log.LogError("halt", err)
		}
		return
	}
	if result.Delay > 0 {
		timer := time.NewTimer(result.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

func (e *Engine) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewFatalError(component, "cycle", fmt.Sprintf("panic: %v", r))
		}
	}()
	return e.Tick(ctx)
}

// Tick runs one trading cycle. Every exchange call is timed and reported to the
// connectivity monitor. The cycle ends early when the risk gate is closed.
func (e *Engine) Tick(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.cycleTimeout)
	defer cancel()

	e.updateStats(func(s *Stats) {
		s.Cycles++
		s.LastCycleAt = e.clock.Now()
	})

	if !e.seeded {
		positions, err := timed(e, func() ([]exchange.Position, error) { return e.gateway.Positions(ctx) })
		if err != nil {
			return errors.CategorizeError(err, component, "seed_positions")
		}
		e.book.seed(positions, e.clock.Now())
		e.seeded = true
	}

	price, err := timed(e, func() (float64, error) { return e.gateway.MarketPrice(ctx, e.symbol) })
	if err != nil {
		return errors.CategorizeError(err, component, "market_price")
	}
	equity, err := timed(e, func() (float64, error) { return e.gateway.Equity(ctx) })
	if err != nil {
		return errors.CategorizeError(err, component, "equity")
	}

	now := e.clock.Now()
	if _, err := e.risk.OnEquityUpdate(ctx, equity, now); err != nil {
		switch {
		case stderrors.Is(err, errors.ErrInvalidSample):
			e.log.LogWarning("equity update", "skipping cycle: %v", err)
			return nil
		case stderrors.Is(err, errors.ErrPersistence):
			// the trip is applied in memory; the gate below still sees it
			e.log.LogError("persist trip", err)
			e.health.ReportError(err.Error())
		default:
			return err
		}
	}
	if !e.risk.MayTrade() {
		e.updateStats(func(s *Stats) { s.GatedCycles++ })
		e.log.LogDebugOnly("trading gate closed, skipping strategy")
		return nil
	}

	positions, err := timed(e, func() ([]exchange.Position, error) { return e.gateway.Positions(ctx) })
	if err != nil {
		return errors.CategorizeError(err, component, "positions")
	}
	qty, avgEntry := e.book.net(e.symbol)
	for _, p := range positions {
		if p.Symbol == e.symbol {
			qty, avgEntry = p.Quantity, p.EntryPrice
		}
	}
	e.updateStats(func(s *Stats) {
		s.PositionQty = qty
		s.AverageEntry = avgEntry
	})

	decision, err := e.strategy.Decide(strategy.MarketView{
		Symbol:       e.symbol,
		Price:        price,
		Equity:       equity,
		PositionQty:  qty,
		AverageEntry: avgEntry,
		At:           now,
	})
	if err != nil {
		return errors.CategorizeError(err, component, "decide")
	}
	e.updateStats(func(s *Stats) { s.LastDecision = fmt.Sprintf("%s: %s", decision.Action, decision.Reason) })
	if decision.Action == strategy.ActionHold {
		e.log.LogDebugOnly("hold: %s", decision.Reason)
		return nil
	}

	req := safety.OrderRequest{
		ClientID:    uuid.NewString(),
		Symbol:      e.symbol,
		Side:        toSide(decision.Action),
		Type:        safety.OrderTypeMarket,
		Quantity:    decision.Quantity,
		MarketPrice: price,
	}
	account := safety.AccountState{Equity: equity, OpenPositions: openPositions(positions, "")}
	if reduces(req, qty) {
		// an exit opens nothing, and one larger than the size limit leaves in slices
		account.OpenPositions = openPositions(positions, e.symbol)
		if limit := e.exitSliceLimit(equity, price); req.Quantity > limit {
			e.log.Info("exit of %.8f %s exceeds the position size limit, selling %.8f this cycle", req.Quantity, req.Symbol, limit)
			req.Quantity = limit
		}
	}
	verdict := e.risk.AdmitOrder(req, account)
	if !verdict.Accepted {
		e.updateStats(func(s *Stats) { s.OrdersRejected++ })
		e.log.Risk("order rejected [%s]: %s", verdict.Reason, verdict.Message)
		return nil
	}

	// The gate can close between admission and submission.
	if !e.risk.MayTrade() {
		e.updateStats(func(s *Stats) { s.GatedCycles++ })
		e.log.Risk("trading gate closed before submission, dropping %s %.8f %s", req.Side, req.Quantity, req.Symbol)
		return nil
	}

	ack, err := timed(e, func() (exchange.OrderAck, error) { return e.gateway.SubmitOrder(ctx, req) })
	if err != nil {
		return errors.CategorizeError(err, component, "submit_order")
	}
	e.updateStats(func(s *Stats) { s.OrdersSubmitted++ })
	e.log.Info("%s %.8f %s @ %.4f (%s)", req.Side, req.Quantity, req.Symbol, ack.FillPrice, decision.Reason)

	e.recordFill(ctx, ack)
	return nil
}

// Halt raises the emergency stop and, when this call activated it, flattens.
func (e *Engine) Halt(ctx context.Context, reason string) (risk.StopResult, error) {
	result, err := e.risk.EmergencyStop(ctx, reason)
	if err != nil {
		e.log.LogError("persist emergency stop", err)
	}
	if flattenErr := e.OnEmergencyStop(ctx, result); flattenErr != nil {
		return result, flattenErr
	}
	return result, err
}

// OnEmergencyStop cancels open orders and closes every position, once per activation.
// Each exchange call is retried by the recovery handler.
func (e *Engine) OnEmergencyStop(ctx context.Context, result risk.StopResult) error {
	if !result.FirstActivation {
		return nil
	}

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	e.log.Risk("flattening after emergency stop (%s)", result.Flag.Reason)
	if err := e.recovery.ExecuteWithRetry(ctx, component, "cancel_all", func(ctx context.Context) error {
		_, err := timed(e, func() (struct{}, error) { return struct{}{}, e.gateway.CancelAll(ctx, "") })
		return err
	}); err != nil {
		e.metrics.RecordError(string(errors.CategorizeError(err, component, "cancel_all").Category))
		e.log.LogError("cancel open orders", err)
	}

	var acks []exchange.OrderAck
	err := e.recovery.ExecuteWithRetry(ctx, component, "flatten_all", func(ctx context.Context) error {
		got, err := timed(e, func() ([]exchange.OrderAck, error) { return e.gateway.FlattenAll(ctx) })
		acks = append(acks, got...)
		return err
	})
	for _, ack := range acks {
		e.recordFill(ctx, ack)
	}
	e.updateStats(func(s *Stats) { s.Flattens++ })
	if err != nil {
		e.metrics.RecordError(string(errors.CategorizeError(err, component, "flatten_all").Category))
		e.health.ReportError(fmt.Sprintf("flatten failed: %v", err))
		return errors.NewExchangeError(component, "flatten_all", err)
	}
	e.log.Risk("flatten complete: %d closing orders", len(acks))
	return nil
}

// recordFill books a filled order, reports closed trades and keeps the strategy in step.
func (e *Engine) recordFill(ctx context.Context, ack exchange.OrderAck) {
	if !ack.Filled {
		return
	}
	e.metrics.RecordTrade(ack.Symbol, ack.Side)
	closed := e.book.apply(ack)

	for _, trade := range closed {
		if err := e.risk.OnTradeClosed(ctx, trade); err != nil {
			e.log.LogError("record closed trade", err)
			e.health.ReportError(err.Error())
		}
		e.log.Info("closed %s %s %.8f: entry %.4f exit %.4f pnl %.4f",
			trade.Side, trade.Symbol, trade.Quantity, trade.EntryPrice, trade.ExitPrice, trade.RealizedPnL)
	}

	e.updateStats(func(s *Stats) {
		s.Fills++
		s.TradesClosed += int64(len(closed))
	})

	if ack.Symbol != e.symbol {
		return
	}
	e.strategy.OnFill(toAction(ack.Side), ack.Quantity, ack.FillPrice, ack.At)
	if qty, _ := e.book.net(e.symbol); math.Abs(qty) <= qtyEpsilon {
		e.strategy.OnCycleComplete()
	}
}

func (e *Engine) Stats() Stats {
	e.statsMu.RLock()
	s := e.stats
	e.statsMu.RUnlock()
	s.Recovery = e.recovery.Stats()
	return s
}

func (e *Engine) updateStats(fn func(*Stats)) {
	e.statsMu.Lock()
	fn(&e.stats)
	e.statsMu.Unlock()
}

// timed runs one exchange round trip and reports its latency and outcome.
func timed[T any](e *Engine, call func() (T, error)) (T, error) {
	start := time.Now()
	v, err := call()
	e.risk.OnRoundTrip(float64(time.Since(start))/float64(time.Millisecond), err == nil)
	return v, err
}

// openPositions counts non-empty positions other than exclude.
func openPositions(positions []exchange.Position, exclude string) int {
	n := 0
	for _, p := range positions {
		if p.Symbol != exclude && math.Abs(p.Quantity) > qtyEpsilon {
			n++
		}
	}
	return n
}

// reduces reports whether req shrinks the held quantity without flipping it.
func reduces(req safety.OrderRequest, held float64) bool {
	switch {
	case req.Side == safety.SideSell && held > qtyEpsilon:
		return req.Quantity <= held+qtyEpsilon
	case req.Side == safety.SideBuy && held < -qtyEpsilon:
		return req.Quantity <= -held+qtyEpsilon
	}
	return false
}

// exitSliceLimit is the largest quantity the position size check admits at price,
// kept just under the limit so rounding cannot push it over.
func (e *Engine) exitSliceLimit(equity, price float64) float64 {
	if equity <= 0 || price <= 0 {
		return math.Inf(1)
	}
	return e.risk.Limits().MaxPositionPctOfCapital * equity / price * exitSliceHeadroom
}

func toSide(action strategy.TradeAction) safety.Side {
	if action == strategy.ActionSell {
		return safety.SideSell
	}
	return safety.SideBuy
}

func toAction(side safety.Side) strategy.TradeAction {
	if side == safety.SideSell {
		return strategy.ActionSell
	}
	return strategy.ActionBuy
}

type nopRecorder struct{}

func (nopRecorder) RecordTrade(string, safety.Side) {}
func (nopRecorder) RecordError(string)              {}

type nopReporter struct{}

func (nopReporter) ReportError(string) {}
