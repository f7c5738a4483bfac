package safety

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Second activation is a no-op that reports the flag was already up
func TestEmergencyStop_Idempotent(t *testing.T) {
	s := NewEmergencyStop()

	prior := s.Activate("manual", t0)
	assert.False(t, prior.Active)
	assert.True(t, s.Active())

	prior = s.Activate("again", t0.Add(time.Minute))
	assert.True(t, prior.Active)
	assert.Equal(t, t0, s.Flag().ActivatedAt)
	assert.Equal(t, "manual", s.Flag().Reason)
	assert.Equal(t, 1, s.Activations())
}

func TestEmergencyStop_DeactivateInactive(t *testing.T) {
	s := NewEmergencyStop()
	err := s.Deactivate()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrNotActive))

	s.Activate("manual", t0)
	require.NoError(t, s.Deactivate())
	assert.False(t, s.Active())
	assert.True(t, s.Flag().ActivatedAt.IsZero())
}
