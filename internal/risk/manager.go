package risk

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ducminhle1904/crypto-risk-core/internal/config"
	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

const (
	// ReasonStateLoadFailed is the stop reason when persisted state cannot be read.
	ReasonStateLoadFailed = "state_load_failed"

	maxSnapshotHistory = 1000
)

// Options wires a Manager. Limits and Repository are required.
type Options struct {
	Limits            config.RiskLimits
	Metrics           config.MetricsConfig
	Repository        Repository
	Clock             Clock
	Logger            *logger.Logger
	Observer          Observer
	OverrideTokenHash string // bcrypt hash; empty disables the override
}

// StopResult tells the caller whether it raised the emergency stop or found it raised.
type StopResult struct {
	Flag            safety.StopFlag `json:"flag"`
	FirstActivation bool            `json:"first_activation"`
}

// Status is a consistent point-in-time view of the risk core.
type Status struct {
	AsOf            time.Time                       `json:"as_of"`
	MayTrade        bool                            `json:"may_trade"`
	Breaker         safety.BreakerStats             `json:"breaker"`
	EmergencyStop   safety.StopFlag                 `json:"emergency_stop"`
	StopActivations int                             `json:"stop_activations"`
	Connectivity    safety.ConnectivityStatus       `json:"connectivity"`
	Drawdown        performance.DrawdownState       `json:"drawdown"`
	MaxDrawdownPct  float64                         `json:"max_drawdown_pct"`
	Performance     performance.PerformanceSnapshot `json:"performance"`
	Limits          config.RiskLimits               `json:"limits"`
}

// Manager is the single owner of all risk state. Every mutation holds mu for writing,
// including drawdown recompute plus trip evaluation as one unit. Reads hold it for
// reading and evaluate the cooldown against the clock without committing it.
// Repository I/O happens after mu is released, on a copied State.
type Manager struct {
	mu sync.RWMutex

	limits     config.RiskLimits
	clock      Clock
	repo       Repository
	log        *logger.Logger
	observer   Observer
	tokenHash  []byte
	tracker    *performance.DrawdownTracker
	breaker    *safety.CircuitBreaker
	stop       *safety.EmergencyStop
	conn       *safety.ConnectivityMonitor
	validator  *safety.OrderValidator
	aggregator *performance.Aggregator
	history    []performance.PerformanceSnapshot
	sequence   uint64
	loadErr    error

	persistMu sync.Mutex
	savedSeq  uint64
}

// NewManager builds the components and restores persisted state. A state that exists
// but cannot be loaded does not fail construction: the manager starts with the
// emergency stop raised and LoadError reports the cause.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if err := opts.Limits.Validate(); err != nil {
		return nil, errors.NewConfigurationError("risk_manager", "new", err.Error())
	}
	if opts.Repository == nil {
		return nil, errors.NewConfigurationError("risk_manager", "new", "repository is required")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}

	m := &Manager{
		limits:    opts.Limits,
		clock:     opts.Clock,
		repo:      opts.Repository,
		log:       opts.Logger,
		observer:  opts.Observer,
		tracker:   performance.NewDrawdownTracker(opts.Limits.MaxDrawdownTripPct, opts.Metrics.MaxSamples),
		breaker:   safety.NewCircuitBreaker(opts.Limits.Cooldown()),
		stop:      safety.NewEmergencyStop(),
		conn:      safety.NewConnectivityMonitor(opts.Limits.MaxLatencyMs, opts.Limits.MaxConsecutiveFailures),
		validator: safety.NewOrderValidator(opts.Limits),
		aggregator: performance.NewAggregator(performance.AggregatorConfig{
			Window:         opts.Metrics.Window,
			Cadence:        opts.Metrics.ReportingCadence.Std(),
			PeriodsPerYear: opts.Metrics.PeriodsPerYear,
		}),
	}
	if opts.OverrideTokenHash != "" {
		m.tokenHash = []byte(opts.OverrideTokenHash)
	}

	m.load(ctx)

	m.breaker.SetStateChangeCallback(func(from, to safety.BreakerState) {
		m.log.Risk("circuit breaker %s -> %s", from, to)
		m.observer.BreakerStateChanged(from, to)
	})
	return m, nil
}

func (m *Manager) load(ctx context.Context) {
	state, err := m.repo.LoadState(ctx)
	switch {
	case err == nil && state != nil:
		m.restore(*state)
		m.log.Info("restored risk state: breaker=%s stop=%t peak=%.2f drawdown=%.4f",
			state.Breaker.State, state.EmergencyStop.Active, state.Tracker.Drawdown.PeakEquity, state.Tracker.Drawdown.DrawdownPct)
	case err == nil || stderrors.Is(err, ErrStateNotFound):
		m.log.Info("no persisted risk state, starting ARMED")
	default:
		var unreadable *UnreadableStateError
		if stderrors.As(err, &unreadable) {
			m.sequence = unreadable.Sequence
			m.savedSeq = unreadable.Sequence
		}
		m.loadErr = errors.NewPersistenceError("risk_manager", "load_state", err)
		m.stop.Activate(ReasonStateLoadFailed, m.clock.Now())
		m.log.LogError("risk state unreadable, emergency stop raised", err)
	}

	trades, err := m.repo.LoadTrades(ctx)
	if err != nil {
		m.log.LogWarning("load_trades", "trade history unavailable, metrics start empty: %v", err)
	} else {
		m.aggregator.Restore(trades)
	}

	snapshots, err := m.repo.Snapshots(ctx, maxSnapshotHistory)
	if err != nil {
		m.log.LogWarning("load_snapshots", "snapshot history unavailable: %v", err)
	} else {
		m.history = snapshots
	}

	m.observer.BreakerStateChanged(safety.StateArmed, m.breaker.State(m.clock.Now()))
	m.observer.EmergencyStopChanged(m.stop.Flag())
	m.observer.DrawdownUpdated(m.tracker.State(), m.tracker.MaxDrawdownPct())
}

func (m *Manager) restore(s State) {
	m.breaker.Restore(s.Breaker.State, s.Breaker.LastTrip, s.Breaker.TripCount, m.clock.Now())
	m.stop.Restore(s.EmergencyStop)
	m.tracker.Restore(s.Tracker)
	m.conn.Restore(s.Connectivity)
	m.sequence = s.Sequence
	m.savedSeq = s.Sequence
}

// LoadError is the startup load failure, if any.
func (m *Manager) LoadError() error {
	return m.loadErr
}

func (m *Manager) Limits() config.RiskLimits {
	return m.limits
}

// OnEquityUpdate records an equity sample and trips the breaker on a breach, atomically.
// The returned error is an InvalidSample error for bad input or a Persistence error when
// the post-trip checkpoint failed; in the latter case the trip itself stands.
func (m *Manager) OnEquityUpdate(ctx context.Context, value float64, at time.Time) (performance.DrawdownState, error) {
	m.mu.Lock()
	now := m.clock.Now()
	m.breaker.Refresh(now)

	state, breached, err := m.tracker.RecordEquity(value, at)
	if err != nil {
		m.mu.Unlock()
		return state, err
	}
	m.observer.DrawdownUpdated(state, m.tracker.MaxDrawdownPct())

	var (
		record  safety.TripRecord
		tripped bool
		snap    State
	)
	if breached {
		// the cooldown runs on the clock, so a late sample cannot trip in the past
		tripAt := at
		if now.After(tripAt) {
			tripAt = now
		}
		record, tripped = m.breaker.Trip(safety.ReasonMaxDrawdown, state.DrawdownPct, tripAt)
		if tripped {
			m.observer.Tripped(record)
			snap = m.exportLocked()
		}
	}
	m.mu.Unlock()

	if !tripped {
		return state, nil
	}
	m.log.Risk("circuit breaker tripped: drawdown %.2f%% >= %.2f%% (peak %.2f, equity %.2f), cooling down for %s",
		state.DrawdownPct*100, m.limits.MaxDrawdownTripPct*100, state.PeakEquity, state.CurrentEquity, m.limits.Cooldown())
	return state, m.persist(ctx, snap)
}

// OnRoundTrip reports one exchange round trip outcome.
func (m *Manager) OnRoundTrip(latencyMs float64, ok bool) safety.ConnectivityStatus {
	m.mu.Lock()
	wasHealthy := m.conn.Healthy()
	status := m.conn.RecordRoundTrip(latencyMs, ok, m.clock.Now())
	m.observer.ConnectivityUpdated(status)
	m.mu.Unlock()

	if wasHealthy != status.Healthy {
		if status.Healthy {
			m.log.Info("exchange connectivity restored: latency %.0fms", status.LastLatencyMs)
		} else {
			m.log.Warning("exchange connectivity degraded: latency %.0fms, %d consecutive failures",
				status.LastLatencyMs, status.ConsecutiveFailures)
		}
	}
	return status
}

// MayTrade is the single trading gate: breaker ARMED at the current time and no emergency stop.
func (m *Manager) MayTrade() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breaker.MayTrade(m.clock.Now(), m.stop.Active())
}

// AdmitOrder runs the validator against the current gate. It never mutates risk state.
func (m *Manager) AdmitOrder(req safety.OrderRequest, account safety.AccountState) safety.Decision {
	m.mu.RLock()
	gate := safety.Gate{
		MayTrade: m.breaker.MayTrade(m.clock.Now(), m.stop.Active()),
		Healthy:  m.conn.Healthy(),
	}
	decision := m.validator.Validate(req, account, gate)
	m.mu.RUnlock()

	m.observer.OrderDecided(decision)
	return decision
}

// OnTradeClosed feeds a closed trade to the aggregator and appends it to the repository.
func (m *Manager) OnTradeClosed(ctx context.Context, trade performance.TradeRecord) error {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}

	m.mu.Lock()
	err := m.aggregator.Ingest(trade)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := m.repo.AppendTrade(ctx, trade); err != nil {
		return errors.NewPersistenceError("risk_manager", "append_trade", err).WithContext("trade_id", trade.ID)
	}
	return nil
}

// EmergencyStop raises the stop. Calling it while active changes nothing and reports
// FirstActivation=false, so only one caller flattens positions.
func (m *Manager) EmergencyStop(ctx context.Context, reason string) (StopResult, error) {
	if reason == "" {
		reason = "manual"
	}

	m.mu.Lock()
	prior := m.stop.Activate(reason, m.clock.Now())
	result := StopResult{Flag: m.stop.Flag(), FirstActivation: !prior.Active}
	var snap State
	if result.FirstActivation {
		m.observer.EmergencyStopChanged(result.Flag)
		snap = m.exportLocked()
	}
	m.mu.Unlock()

	if !result.FirstActivation {
		m.log.Info("emergency stop already active since %s (%s)", result.Flag.ActivatedAt.Format(time.RFC3339), result.Flag.Reason)
		return result, nil
	}
	m.log.Risk("EMERGENCY STOP activated: %s", reason)
	return result, m.persist(ctx, snap)
}

// Resume clears an active emergency stop. It does not touch the breaker.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	prior := m.stop.Flag()
	if err := m.stop.Deactivate(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.observer.EmergencyStopChanged(m.stop.Flag())
	snap := m.exportLocked()
	m.mu.Unlock()

	m.log.Risk("emergency stop cleared (was active since %s: %s)", prior.ActivatedAt.Format(time.RFC3339), prior.Reason)
	return m.persist(ctx, snap)
}

// ForceArm re-arms the breaker before its cooldown elapses. It requires the operator
// override token and is always logged. resetPeak restarts drawdown measurement from
// current equity; the max drawdown mark is kept.
func (m *Manager) ForceArm(ctx context.Context, token, reason string, resetPeak bool) error {
	if len(m.tokenHash) == 0 || bcrypt.CompareHashAndPassword(m.tokenHash, []byte(token)) != nil {
		m.log.Warning("rejected breaker override attempt (%s)", reason)
		return errors.NewUnauthorizedError("risk_manager", "force_arm")
	}

	m.mu.Lock()
	armed := m.breaker.ForceArm(m.clock.Now())
	if resetPeak {
		m.tracker.ResetPeak()
		m.observer.DrawdownUpdated(m.tracker.State(), m.tracker.MaxDrawdownPct())
	}
	snap := m.exportLocked()
	m.mu.Unlock()

	m.log.Risk("breaker override by operator: armed=%t reset_peak=%t reason=%q", armed, resetPeak, reason)
	return m.persist(ctx, snap)
}

// Status returns one consistent view of every component.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	return Status{
		AsOf:            now,
		MayTrade:        m.breaker.MayTrade(now, m.stop.Active()),
		Breaker:         m.breaker.Stats(now),
		EmergencyStop:   m.stop.Flag(),
		StopActivations: m.stop.Activations(),
		Connectivity:    m.conn.Status(),
		Drawdown:        m.tracker.State(),
		MaxDrawdownPct:  m.tracker.MaxDrawdownPct(),
		Performance:     m.aggregator.Snapshot(m.tracker.View(), now),
		Limits:          m.limits,
	}
}

// Snapshot computes performance metrics on demand without recording them.
func (m *Manager) Snapshot() performance.PerformanceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregator.Snapshot(m.tracker.View(), m.clock.Now())
}

// RollupSnapshot computes a snapshot and appends it to the retained history.
func (m *Manager) RollupSnapshot(ctx context.Context) (performance.PerformanceSnapshot, error) {
	m.mu.Lock()
	snap := m.aggregator.Snapshot(m.tracker.View(), m.clock.Now())
	m.history = append(m.history, snap)
	if len(m.history) > maxSnapshotHistory {
		m.history = m.history[len(m.history)-maxSnapshotHistory:]
	}
	m.mu.Unlock()

	m.observer.SnapshotTaken(snap)

	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := m.repo.AppendSnapshot(ctx, snap); err != nil {
		return snap, errors.NewPersistenceError("risk_manager", "append_snapshot", err)
	}
	return snap, nil
}

// SnapshotHistory returns up to limit most recent rolled-up snapshots, oldest first.
func (m *Manager) SnapshotHistory(limit int) []performance.PerformanceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.history
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]performance.PerformanceSnapshot, len(history))
	copy(out, history)
	return out
}

// TripHistory returns the retained circuit breaker trips, oldest first.
func (m *Manager) TripHistory() []safety.TripRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breaker.History()
}

// Checkpoint saves the full state, including the equity series.
func (m *Manager) Checkpoint(ctx context.Context) error {
	m.mu.Lock()
	snap := m.exportLocked()
	m.mu.Unlock()
	return m.persist(ctx, snap)
}

// Close writes a final checkpoint and releases the repository.
func (m *Manager) Close(ctx context.Context) error {
	cpErr := m.Checkpoint(ctx)
	if err := m.repo.Close(); err != nil {
		return errors.NewPersistenceError("risk_manager", "close", err)
	}
	return cpErr
}

// exportLocked copies the state and stamps it with the next sequence number.
// Callers hold mu for writing.
func (m *Manager) exportLocked() State {
	m.sequence++
	stats := m.breaker.Stats(m.clock.Now())
	return State{
		Version:  StateVersion,
		Sequence: m.sequence,
		SavedAt:  m.clock.Now(),
		Breaker: BreakerState{
			State:     stats.State,
			LastTrip:  stats.LastTrip,
			TripCount: stats.TripCount,
		},
		EmergencyStop: m.stop.Flag(),
		Tracker:       m.tracker.Export(),
		Connectivity:  m.conn.Status(),
	}
}

// persist writes s unless a newer state has already been written, so concurrent
// checkpoints can finish in any order without regressing the stored state.
func (m *Manager) persist(ctx context.Context, s State) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if s.Sequence <= m.savedSeq {
		return nil
	}
	err := m.repo.SaveState(ctx, s)
	var stale *StaleStateError
	if stderrors.As(err, &stale) {
		m.log.LogWarning("save risk state", "stored sequence %d is ahead of %d, re-exporting", stale.Stored, stale.Attempted)
		m.mu.Lock()
		if m.sequence < stale.Stored {
			m.sequence = stale.Stored
		}
		s = m.exportLocked()
		m.mu.Unlock()
		err = m.repo.SaveState(ctx, s)
	}
	if err != nil {
		m.log.LogError("save risk state", err)
		return errors.NewPersistenceError("risk_manager", "save_state", err).WithContext("sequence", s.Sequence)
	}
	m.savedSeq = s.Sequence
	return nil
}
