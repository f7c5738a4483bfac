package safety

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a named token bucket of capacity tokens refilled at refillRate per second.
type RateLimiter struct {
	name    string
	limiter *rate.Limiter
	now     func() time.Time
}

func NewRateLimiter(name string, capacity int, refillRate float64) *RateLimiter {
	return newRateLimiterAt(name, capacity, refillRate, time.Now)
}

func newRateLimiterAt(name string, capacity int, refillRate float64, now func() time.Time) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate < 0 {
		refillRate = 0
	}
	return &RateLimiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(refillRate), capacity),
		now:     now,
	}
}

func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

func (rl *RateLimiter) AllowN(n int) bool {
	return rl.limiter.AllowN(rl.now(), n)
}

// RateLimiterStats is a point-in-time view of the bucket.
type RateLimiterStats struct {
	Name       string
	Capacity   int
	Tokens     float64
	RefillRate float64
}

func (rl *RateLimiter) GetStats() RateLimiterStats {
	return RateLimiterStats{
		Name:       rl.name,
		Capacity:   rl.limiter.Burst(),
		Tokens:     rl.limiter.TokensAt(rl.now()),
		RefillRate: float64(rl.limiter.Limit()),
	}
}
