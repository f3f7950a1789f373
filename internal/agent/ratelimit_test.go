package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(burst int, perMinute float64) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := NewRateLimiter(burst, perMinute)
	rl.now = clock.now
	rl.last = clock.t
	return rl, clock
}

func TestRateLimiter_BurstThenQueue(t *testing.T) {
	rl, _ := newClockedLimiter(2, 60)

	want := []time.Duration{0, 0, time.Second, 2 * time.Second}
	for i, w := range want {
		if got := rl.reserve(); got != w {
			t.Fatalf("reservation %d: got %v, want %v", i, got, w)
		}
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl, clock := newClockedLimiter(2, 60)
	rl.reserve()
	rl.reserve()

	clock.advance(1500 * time.Millisecond)
	if got := rl.reserve(); got != 0 {
		t.Fatalf("expected a refilled token, got wait %v", got)
	}
	if got := rl.reserve(); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms wait, got %v", got)
	}

	clock.advance(time.Hour)
	rl.reserve()
	rl.reserve()
	if got := rl.reserve(); got != time.Second {
		t.Fatalf("refill should cap at the burst size, got wait %v", got)
	}
}

func TestRateLimiter_WaitImmediateWithinBurst(t *testing.T) {
	rl := NewRateLimiter(3, 1)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if time.Since(start) > time.Second {
		t.Fatal("burst waits should not block")
	}
}

func TestRateLimiter_CancelReturnsToken(t *testing.T) {
	rl, _ := newClockedLimiter(1, 1)
	rl.reserve()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := rl.reserve(); got != time.Minute {
		t.Fatalf("abandoned wait should not hold its slot, got wait %v", got)
	}
}

func TestRateLimiter_CancelledBeforeWait(t *testing.T) {
	rl, _ := newClockedLimiter(1, 60)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if got := rl.reserve(); got != 0 {
		t.Fatal("a cancelled call should not consume a token")
	}
}

func TestRateLimiter_NilNeverWaits(t *testing.T) {
	var rl *RateLimiter
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.burst != defaultRateBurst || rl.interval != time.Second {
		t.Fatalf("unexpected defaults: burst %v interval %v", rl.burst, rl.interval)
	}
}
