package risk

import (
	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

// Observer receives risk events, typically to update metrics. Methods are called
// synchronously, some under the manager's lock, and must not call back into it.
type Observer interface {
	BreakerStateChanged(from, to safety.BreakerState)
	Tripped(record safety.TripRecord)
	DrawdownUpdated(state performance.DrawdownState, maxDrawdownPct float64)
	ConnectivityUpdated(status safety.ConnectivityStatus)
	OrderDecided(decision safety.Decision)
	EmergencyStopChanged(flag safety.StopFlag)
	SnapshotTaken(snapshot performance.PerformanceSnapshot)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) BreakerStateChanged(safety.BreakerState, safety.BreakerState) {}
func (NopObserver) Tripped(safety.TripRecord)                                    {}
func (NopObserver) DrawdownUpdated(performance.DrawdownState, float64)           {}
func (NopObserver) ConnectivityUpdated(safety.ConnectivityStatus)                {}
func (NopObserver) OrderDecided(safety.Decision)                                 {}
func (NopObserver) EmergencyStopChanged(safety.StopFlag)                         {}
func (NopObserver) SnapshotTaken(performance.PerformanceSnapshot)                {}

// Observers fans every event out to each member in order.
type Observers []Observer

func (o Observers) BreakerStateChanged(from, to safety.BreakerState) {
	for _, ob := range o {
		ob.BreakerStateChanged(from, to)
	}
}

func (o Observers) Tripped(record safety.TripRecord) {
	for _, ob := range o {
		ob.Tripped(record)
	}
}

func (o Observers) DrawdownUpdated(state performance.DrawdownState, maxDrawdownPct float64) {
	for _, ob := range o {
		ob.DrawdownUpdated(state, maxDrawdownPct)
	}
}

func (o Observers) ConnectivityUpdated(status safety.ConnectivityStatus) {
	for _, ob := range o {
		ob.ConnectivityUpdated(status)
	}
}

func (o Observers) OrderDecided(decision safety.Decision) {
	for _, ob := range o {
		ob.OrderDecided(decision)
	}
}

func (o Observers) EmergencyStopChanged(flag safety.StopFlag) {
	for _, ob := range o {
		ob.EmergencyStopChanged(flag)
	}
}

func (o Observers) SnapshotTaken(snapshot performance.PerformanceSnapshot) {
	for _, ob := range o {
		ob.SnapshotTaken(snapshot)
	}
}
