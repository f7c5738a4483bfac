package risk

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

// StateVersion is bumped when State changes shape.
const StateVersion = 1

// BreakerState is the persisted part of the circuit breaker.
type BreakerState struct {
	State     safety.BreakerState `json:"state"`
	LastTrip  *safety.TripRecord  `json:"last_trip,omitempty"`
	TripCount int                 `json:"trip_count"`
}

// State is everything needed to resume after a restart without re-arming from zero.
type State struct {
	Version       int                       `json:"version"`
	Sequence      uint64                    `json:"sequence"`
	SavedAt       time.Time                 `json:"saved_at"`
	Breaker       BreakerState              `json:"breaker"`
	EmergencyStop safety.StopFlag           `json:"emergency_stop"`
	Tracker       performance.TrackerState  `json:"tracker"`
	Connectivity  safety.ConnectivityStatus `json:"connectivity"`
}

// ErrStateNotFound is returned by LoadState on a first run.
var ErrStateNotFound = stderrors.New("risk state not found")

// Repository persists risk state, closed trades and snapshot history.
type Repository interface {
	// LoadState returns ErrStateNotFound when nothing was saved yet. Any other error
	// means the state exists but cannot be trusted.
	LoadState(ctx context.Context) (*State, error)
	SaveState(ctx context.Context, state State) error
	AppendTrade(ctx context.Context, trade performance.TradeRecord) error
	LoadTrades(ctx context.Context) ([]performance.TradeRecord, error)
	AppendSnapshot(ctx context.Context, snapshot performance.PerformanceSnapshot) error
	// Snapshots returns up to limit most recent snapshots, oldest first. limit <= 0 means all.
	Snapshots(ctx context.Context, limit int) ([]performance.PerformanceSnapshot, error)
	Close() error
}

// StaleStateError is returned by SaveState when the stored row carries a sequence at
// or above the one being written.
type StaleStateError struct {
	Attempted uint64
	Stored    uint64
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale risk state: sequence %d, stored %d", e.Attempted, e.Stored)
}

// UnreadableStateError is returned by LoadState when a row exists but its payload
// cannot be trusted. Sequence is the stored sequence, so later saves can supersede it.
type UnreadableStateError struct {
	Sequence uint64
	Err      error
}

func (e *UnreadableStateError) Error() string {
	return fmt.Sprintf("unreadable risk state at sequence %d: %v", e.Sequence, e.Err)
}

func (e *UnreadableStateError) Unwrap() error {
	return e.Err
}
