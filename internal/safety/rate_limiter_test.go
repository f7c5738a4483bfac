package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	now := t0
	rl := newRateLimiterAt("api", 2, 1, func() time.Time { return now })

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	now = now.Add(500 * time.Millisecond)
	assert.False(t, rl.Allow())

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.Allow())

	now = now.Add(time.Hour)
	stats := rl.GetStats()
	assert.Equal(t, 2.0, stats.Tokens)
	assert.Equal(t, "api", stats.Name)
	assert.Equal(t, 2, stats.Capacity)
	assert.Equal(t, 1.0, stats.RefillRate)
}
