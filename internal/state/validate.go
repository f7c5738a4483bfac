package state

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

// validateState rejects documents that parse but cannot be trusted.
func validateState(st *risk.State) error {
	if st.Version == 0 || st.Version > risk.StateVersion {
		return fmt.Errorf("unsupported state version %d", st.Version)
	}
	switch st.Breaker.State {
	case safety.StateArmed, safety.StateTripped, safety.StateCoolingDown:
	default:
		return fmt.Errorf("invalid breaker state %d", st.Breaker.State)
	}
	dd := st.Tracker.Drawdown
	for name, v := range map[string]float64{
		"peak_equity":    dd.PeakEquity,
		"current_equity": dd.CurrentEquity,
		"initial_equity": st.Tracker.InitialEquity,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("invalid %s %v", name, v)
		}
	}
	return nil
}
