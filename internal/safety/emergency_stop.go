package safety

import (
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
)

// StopFlag is the manual kill switch state.
type StopFlag struct {
	Active      bool      `json:"active"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// EmergencyStop holds the flag. Activation is idempotent; only Deactivate clears it.
// Not safe for concurrent use.
type EmergencyStop struct {
	flag        StopFlag
	activations int
}

func NewEmergencyStop() *EmergencyStop {
	return &EmergencyStop{}
}

// Activate raises the flag and returns the flag as it was before the call. When
// prior.Active is true this call changed nothing, and the original time and reason stand.
func (s *EmergencyStop) Activate(reason string, at time.Time) StopFlag {
	prior := s.flag
	if prior.Active {
		return prior
	}
	s.flag = StopFlag{Active: true, ActivatedAt: at, Reason: reason}
	s.activations++
	return prior
}

// Deactivate clears an active flag, or fails with a NotActive error.
func (s *EmergencyStop) Deactivate() error {
	if !s.flag.Active {
		return errors.NewNotActiveError("emergency_stop", "deactivate")
	}
	s.flag = StopFlag{}
	return nil
}

func (s *EmergencyStop) Active() bool {
	return s.flag.Active
}

func (s *EmergencyStop) Flag() StopFlag {
	return s.flag
}

// Activations counts edge-triggered activations since start.
func (s *EmergencyStop) Activations() int {
	return s.activations
}

func (s *EmergencyStop) Restore(flag StopFlag) {
	s.flag = flag
}
