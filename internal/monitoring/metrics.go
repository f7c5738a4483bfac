package monitoring

import (
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

const namespace = "risk_core"

// Metrics exports risk events as Prometheus series. It implements risk.Observer and
// owns a private registry so tests and multiple managers never collide.
type Metrics struct {
	registry *prometheus.Registry

	breakerState   prometheus.Gauge
	tripsTotal     prometheus.Counter
	drawdownPct    prometheus.Gauge
	maxDrawdownPct prometheus.Gauge
	equity         prometheus.Gauge
	peakEquity     prometheus.Gauge

	latencyMs           prometheus.Gauge
	consecutiveFailures prometheus.Gauge
	connectivityHealthy prometheus.Gauge
	roundTripsTotal     prometheus.Counter

	emergencyStop  prometheus.Gauge
	orderDecisions *prometheus.CounterVec

	winRate      prometheus.Gauge
	profitFactor prometheus.Gauge
	sharpeRatio  prometheus.Gauge
	roiPct       prometheus.Gauge

	tradesTotal *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
}

var _ risk.Observer = (*Metrics)(nil)

func NewMetrics() *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}

	m := &Metrics{
		registry:       prometheus.NewRegistry(),
		breakerState:   gauge("breaker_state", "Circuit breaker state: 0 armed, 1 tripped, 2 cooling down"),
		tripsTotal:     counter("breaker_trips_total", "Total number of circuit breaker trips"),
		drawdownPct:    gauge("drawdown_ratio", "Current drawdown from peak equity"),
		maxDrawdownPct: gauge("max_drawdown_ratio", "Largest drawdown observed"),
		equity:         gauge("equity", "Last recorded account equity"),
		peakEquity:     gauge("peak_equity", "Highest recorded account equity"),

		latencyMs:           gauge("exchange_latency_ms", "Last exchange round trip latency"),
		consecutiveFailures: gauge("exchange_consecutive_failures", "Consecutive failed exchange round trips"),
		connectivityHealthy: gauge("exchange_healthy", "1 when exchange connectivity is healthy"),
		roundTripsTotal:     counter("exchange_round_trips_total", "Total number of recorded exchange round trips"),

		emergencyStop: gauge("emergency_stop_active", "1 while the emergency stop is active"),
		orderDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_decisions_total",
			Help:      "Order validation decisions by outcome",
		}, []string{"outcome"}),

		winRate:      gauge("win_rate", "Fraction of winning trades in the metrics window"),
		profitFactor: gauge("profit_factor", "Gross profit over gross loss; +Inf when there are no losses"),
		sharpeRatio:  gauge("sharpe_ratio", "Annualized Sharpe ratio of periodic equity returns"),
		roiPct:       gauge("roi_pct", "Return on initial equity in percent"),

		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Total number of closed trades",
		}, []string{"symbol", "side"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of trading cycle errors by category",
		}, []string{"category"}),
	}

	m.registry.MustRegister(
		m.breakerState, m.tripsTotal, m.drawdownPct, m.maxDrawdownPct, m.equity, m.peakEquity,
		m.latencyMs, m.consecutiveFailures, m.connectivityHealthy, m.roundTripsTotal,
		m.emergencyStop, m.orderDecisions,
		m.winRate, m.profitFactor, m.sharpeRatio, m.roiPct,
		m.tradesTotal, m.errorsTotal,
	)
	m.connectivityHealthy.Set(1)
	return m
}

// Registry exposes the private registry, e.g. to add process collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BreakerStateChanged(_, to safety.BreakerState) {
	m.breakerState.Set(float64(to))
}

func (m *Metrics) Tripped(safety.TripRecord) {
	m.tripsTotal.Inc()
}

func (m *Metrics) DrawdownUpdated(state performance.DrawdownState, maxDrawdownPct float64) {
	m.drawdownPct.Set(state.DrawdownPct)
	m.maxDrawdownPct.Set(maxDrawdownPct)
	m.equity.Set(state.CurrentEquity)
	m.peakEquity.Set(state.PeakEquity)
}

func (m *Metrics) ConnectivityUpdated(status safety.ConnectivityStatus) {
	m.roundTripsTotal.Inc()
	m.latencyMs.Set(status.LastLatencyMs)
	m.consecutiveFailures.Set(float64(status.ConsecutiveFailures))
	m.connectivityHealthy.Set(boolGauge(status.Healthy))
}

func (m *Metrics) OrderDecided(decision safety.Decision) {
	outcome := "accepted"
	if !decision.Accepted {
		outcome = string(decision.Reason)
	}
	m.orderDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EmergencyStopChanged(flag safety.StopFlag) {
	m.emergencyStop.Set(boolGauge(flag.Active))
}

// SnapshotTaken publishes rolled-up metrics. Undefined values leave the gauge untouched.
func (m *Metrics) SnapshotTaken(snap performance.PerformanceSnapshot) {
	m.winRate.Set(snap.WinRate)
	m.roiPct.Set(snap.ROIPct)
	if !math.IsNaN(snap.ProfitFactor) {
		m.profitFactor.Set(snap.ProfitFactor)
	}
	if snap.SharpeDefined {
		m.sharpeRatio.Set(snap.SharpeRatio)
	}
}

// RecordTrade counts a closed trade.
func (m *Metrics) RecordTrade(symbol string, side safety.Side) {
	m.tradesTotal.WithLabelValues(symbol, string(side)).Inc()
}

// RecordError counts a failed trading cycle by error category.
func (m *Metrics) RecordError(category string) {
	m.errorsTotal.WithLabelValues(category).Inc()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
