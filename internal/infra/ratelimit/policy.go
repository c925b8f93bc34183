package ratelimit

import (
	"context"
	"fmt"
	"time"

	"rewardguard/internal/domain"
)

// Policy binds named limiter configurations to one counter store.
type Policy struct {
	limiter domain.RateLimiter
	configs map[domain.LimiterName]domain.LimiterConfig
}

func NewPolicy(limiter domain.RateLimiter, configs []domain.LimiterConfig) *Policy {
	p := &Policy{
		limiter: limiter,
		configs: make(map[domain.LimiterName]domain.LimiterConfig, len(configs)),
	}
	for _, cfg := range configs {
		p.configs[cfg.Name] = cfg
	}
	return p
}

// DefaultLimiters are the named configurations used when none are
// configured.
func DefaultLimiters() []domain.LimiterConfig {
	return []domain.LimiterConfig{
		{Name: domain.LimiterTaskVerify, MaxRequests: 10, Window: time.Minute},
		{Name: domain.LimiterRitualClaim, MaxRequests: 3, Window: 24 * time.Hour},
		{Name: domain.LimiterGeneral, MaxRequests: 120, Window: time.Minute},
		{Name: domain.LimiterSocialLink, MaxRequests: 5, Window: time.Hour},
	}
}

func (p *Policy) Config(name domain.LimiterName) (domain.LimiterConfig, bool) {
	cfg, ok := p.configs[name]
	return cfg, ok
}

// Allow counts one request for key under the named configuration. Keys are
// namespaced per configuration so limits never share counters.
func (p *Policy) Allow(ctx context.Context, name domain.LimiterName, key string) (domain.RateLimitDecision, error) {
	if p == nil || p.limiter == nil {
		return domain.RateLimitDecision{Allowed: true}, nil
	}
	cfg, ok := p.configs[name]
	if !ok {
		return domain.RateLimitDecision{}, fmt.Errorf("unknown limiter %q", name)
	}
	return p.limiter.Allow(ctx, string(name)+":"+key, cfg.MaxRequests, cfg.Window)
}
