package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rewardguard/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemoryLimiterExactWindow(t *testing.T) {
	clock := newClock()
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: clock.Now})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if decision.Remaining != 2-i {
			t.Fatalf("expected remaining %d, got %d", 2-i, decision.Remaining)
		}
	}
	for i := 0; i < 5; i++ {
		decision, _ := limiter.Allow(ctx, "k", 3, time.Minute)
		if decision.Allowed {
			t.Fatalf("request beyond limit should be denied")
		}
		if decision.Remaining != 0 {
			t.Fatalf("expected remaining 0, got %d", decision.Remaining)
		}
	}
	if got := limiter.data["k"].count; got != 3 {
		t.Fatalf("denied requests must not mutate the counter, got %d", got)
	}

	clock.Advance(time.Minute)
	decision, _ := limiter.Allow(ctx, "k", 3, time.Minute)
	if !decision.Allowed || decision.Remaining != 2 {
		t.Fatalf("expected fresh window after expiry, got %+v", decision)
	}
	if !decision.ResetAt.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("unexpected reset time %s", decision.ResetAt)
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: newClock().Now})
	ctx := context.Background()
	if d, _ := limiter.Allow(ctx, "a", 1, time.Minute); !d.Allowed {
		t.Fatalf("expected a allowed")
	}
	if d, _ := limiter.Allow(ctx, "b", 1, time.Minute); !d.Allowed {
		t.Fatalf("expected b allowed")
	}
	if d, _ := limiter.Allow(ctx, "a", 1, time.Minute); d.Allowed {
		t.Fatalf("expected a denied")
	}
}

func TestMemoryLimiterConcurrentIncrement(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: newClock().Now})
	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Allow(context.Background(), "shared", 50, time.Minute)
			if err == nil && decision.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Fatalf("expected exactly 50 allowed, got %d", allowed)
	}
}

func TestMemoryLimiterSweep(t *testing.T) {
	clock := newClock()
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: clock.Now})
	ctx := context.Background()
	_, _ = limiter.Allow(ctx, "short", 1, time.Second)
	_, _ = limiter.Allow(ctx, "long", 1, time.Hour)

	clock.Advance(2 * time.Second)
	if removed := limiter.Sweep(); removed != 1 {
		t.Fatalf("expected 1 expired window removed, got %d", removed)
	}
	if limiter.Len() != 1 {
		t.Fatalf("expected 1 live window, got %d", limiter.Len())
	}
}

func TestMemoryLimiterCapacity(t *testing.T) {
	clock := newClock()
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: clock.Now, MaxKeys: 2})
	ctx := context.Background()
	_, _ = limiter.Allow(ctx, "a", 1, time.Minute)
	_, _ = limiter.Allow(ctx, "b", 1, time.Minute)
	if _, err := limiter.Allow(ctx, "c", 1, time.Minute); !errors.Is(err, domain.ErrRateLimiterCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := limiter.Allow(ctx, "c", 1, time.Minute); err != nil {
		t.Fatalf("expected expired windows to be reclaimed: %v", err)
	}
}

func TestMemoryLimiterZeroLimitAllows(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{})
	decision, err := limiter.Allow(context.Background(), "k", 0, time.Minute)
	if err != nil || !decision.Allowed {
		t.Fatalf("expected unlimited allow, got %+v %v", decision, err)
	}
}
