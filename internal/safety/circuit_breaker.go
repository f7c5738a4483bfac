package safety

import (
	"time"

	"github.com/google/uuid"
)

// BreakerState is the circuit breaker's tagged state.
type BreakerState int

const (
	StateArmed BreakerState = iota
	StateTripped
	StateCoolingDown
)

func (s BreakerState) String() string {
	switch s {
	case StateArmed:
		return "ARMED"
	case StateTripped:
		return "TRIPPED"
	case StateCoolingDown:
		return "COOLING_DOWN"
	default:
		return "UNKNOWN"
	}
}

func (s BreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *BreakerState) UnmarshalText(text []byte) error {
	parsed, ok := ParseBreakerState(string(text))
	if !ok {
		return &stateParseError{value: string(text)}
	}
	*s = parsed
	return nil
}

// ParseBreakerState is the inverse of String.
func ParseBreakerState(v string) (BreakerState, bool) {
	switch v {
	case "ARMED":
		return StateArmed, true
	case "TRIPPED":
		return StateTripped, true
	case "COOLING_DOWN":
		return StateCoolingDown, true
	}
	return StateArmed, false
}

type stateParseError struct{ value string }

func (e *stateParseError) Error() string { return "unknown breaker state " + e.value }

// ReasonMaxDrawdown is recorded on every drawdown trip.
const ReasonMaxDrawdown = "max_drawdown_exceeded"

const maxTripHistory = 100

// TripRecord is the audit entry for one trip.
type TripRecord struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	TrippedAt time.Time `json:"tripped_at"`
	Drawdown  float64   `json:"drawdown"`
}

// BreakerStats is a read-only view of the breaker.
type BreakerStats struct {
	State             BreakerState  `json:"state"`
	TripCount         int           `json:"trip_count"`
	LastTrip          *TripRecord   `json:"last_trip,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining_ns"`
	ArmedAt           time.Time     `json:"armed_at,omitempty"`
}

// CircuitBreaker gates trading after a drawdown breach. The COOLING_DOWN to ARMED
// transition is evaluated lazily against the caller's clock: read methods report the
// effective state without mutating, Refresh commits it.
//
// Not safe for concurrent use; the owner serializes access.
type CircuitBreaker struct {
	cooldown      time.Duration
	state         BreakerState
	lastTrip      *TripRecord
	tripCount     int
	history       []TripRecord
	armedAt       time.Time
	onStateChange func(from, to BreakerState)
}

func NewCircuitBreaker(cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		cooldown: cooldown,
		state:    StateArmed,
	}
}

// SetStateChangeCallback registers fn for committed transitions. fn runs synchronously
// under the owner's lock and must not call back into the owner.
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(from, to BreakerState)) {
	cb.onStateChange = fn
}

// State returns the effective state at now.
func (cb *CircuitBreaker) State(now time.Time) BreakerState {
	if cb.state == StateCoolingDown && cb.cooldownElapsed(now) {
		return StateArmed
	}
	return cb.state
}

// MayTrade is true only when no emergency stop is active and the breaker is ARMED at now.
func (cb *CircuitBreaker) MayTrade(now time.Time, stopActive bool) bool {
	if stopActive {
		return false
	}
	return cb.State(now) == StateArmed
}

// Refresh commits a pending re-arm. Returns true when a transition happened.
func (cb *CircuitBreaker) Refresh(now time.Time) bool {
	if cb.state == StateCoolingDown && cb.cooldownElapsed(now) {
		cb.armedAt = now
		cb.changeState(StateArmed)
		return true
	}
	return false
}

// Trip moves an ARMED breaker through TRIPPED into COOLING_DOWN at the same instant.
// A breaker already cooling down is left alone so the original trip time stands.
func (cb *CircuitBreaker) Trip(reason string, drawdown float64, at time.Time) (TripRecord, bool) {
	cb.Refresh(at)
	if cb.state != StateArmed {
		return TripRecord{}, false
	}

	record := TripRecord{
		ID:        uuid.NewString(),
		Reason:    reason,
		TrippedAt: at,
		Drawdown:  drawdown,
	}
	cb.lastTrip = &record
	cb.tripCount++
	cb.history = append(cb.history, record)
	if len(cb.history) > maxTripHistory {
		cb.history = cb.history[len(cb.history)-maxTripHistory:]
	}

	cb.changeState(StateTripped)
	cb.changeState(StateCoolingDown)
	return record, true
}

// ForceArm re-arms before the cooldown elapses. Authorization is the caller's job.
func (cb *CircuitBreaker) ForceArm(now time.Time) bool {
	if cb.state == StateArmed {
		return false
	}
	cb.armedAt = now
	cb.changeState(StateArmed)
	return true
}

// CooldownRemaining is zero unless the breaker is cooling down at now.
func (cb *CircuitBreaker) CooldownRemaining(now time.Time) time.Duration {
	if cb.State(now) != StateCoolingDown || cb.lastTrip == nil {
		return 0
	}
	return cb.lastTrip.TrippedAt.Add(cb.cooldown).Sub(now)
}

func (cb *CircuitBreaker) Stats(now time.Time) BreakerStats {
	stats := BreakerStats{
		State:             cb.State(now),
		TripCount:         cb.tripCount,
		CooldownRemaining: cb.CooldownRemaining(now),
		ArmedAt:           cb.armedAt,
	}
	if cb.lastTrip != nil {
		trip := *cb.lastTrip
		stats.LastTrip = &trip
	}
	return stats
}

// History returns a copy of the most recent trips, oldest first.
func (cb *CircuitBreaker) History() []TripRecord {
	out := make([]TripRecord, len(cb.history))
	copy(out, cb.history)
	return out
}

// Restore loads persisted state without firing callbacks. TRIPPED is never a resting
// state, so it restores as COOLING_DOWN. A cooldown with no recorded trip restarts at now.
func (cb *CircuitBreaker) Restore(state BreakerState, lastTrip *TripRecord, tripCount int, now time.Time) {
	if state == StateTripped {
		state = StateCoolingDown
	}
	if state == StateCoolingDown && lastTrip == nil {
		lastTrip = &TripRecord{ID: uuid.NewString(), Reason: "restored", TrippedAt: now}
	}
	cb.state = state
	cb.tripCount = tripCount
	cb.lastTrip = nil
	if lastTrip != nil {
		trip := *lastTrip
		cb.lastTrip = &trip
		cb.history = append(cb.history[:0], trip)
	}
}

func (cb *CircuitBreaker) cooldownElapsed(now time.Time) bool {
	if cb.lastTrip == nil {
		return true
	}
	return now.Sub(cb.lastTrip.TrippedAt) >= cb.cooldown
}

func (cb *CircuitBreaker) changeState(to BreakerState) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil && from != to {
		cb.onStateChange(from, to)
	}
}
