package domain

import (
	"context"
	"time"
)

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter counts requests per key in fixed windows. A window starts on
// the first request for a key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
}

type LimiterName string

const (
	LimiterTaskVerify  LimiterName = "task_verify"
	LimiterRitualClaim LimiterName = "ritual_claim"
	LimiterGeneral     LimiterName = "general"
	LimiterSocialLink  LimiterName = "social_link"
)

type LimiterConfig struct {
	Name        LimiterName
	MaxRequests int
	Window      time.Duration
}
