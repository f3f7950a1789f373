package agent

import (
	"context"
	"math"
	"sync"
	"time"
)

// RateLimiter spaces LLM calls with a token bucket: up to burst calls at
// once, then one per interval. Callers reserve a token up front, so
// concurrent runs queue in arrival order. A nil *RateLimiter never waits.
type RateLimiter struct {
	mu       sync.Mutex
	burst    float64
	interval time.Duration
	tokens   float64 // negative while callers are queued
	last     time.Time
	now      func() time.Time
}

func NewRateLimiter(burst int, ratePerMinute float64) *RateLimiter {
	if burst <= 0 {
		burst = defaultRateBurst
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	rl := &RateLimiter{
		burst:    float64(burst),
		interval: time.Duration(float64(time.Minute) / ratePerMinute),
		tokens:   float64(burst),
		now:      time.Now,
	}
	rl.last = rl.now()
	return rl
}

// Wait blocks until the caller's token is due or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	delay := rl.reserve()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		rl.release()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reserve takes one token and returns how long until it is earned.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	earned := float64(now.Sub(rl.last)) / float64(rl.interval)
	rl.tokens = math.Min(rl.burst, rl.tokens+earned)
	rl.last = now

	rl.tokens--
	if rl.tokens >= 0 {
		return 0
	}
	return time.Duration(-rl.tokens * float64(rl.interval))
}

// release gives back a token whose wait was abandoned.
func (rl *RateLimiter) release() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = math.Min(rl.burst, rl.tokens+1)
}
