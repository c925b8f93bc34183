package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"rewardguard/internal/domain"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	AutoMigrate bool
	LogLevel    string
	Env         string
	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers are believed. Empty trusts none and keys on the peer address.
	TrustedProxies []string

	SessionSecret     string
	SessionTTLSeconds int
	ChallengeDomain   string

	SocialAPIBaseURL        string
	SocialAPIToken          string
	SocialAPITimeoutSeconds int

	ClaimPolicyPath     string
	ClaimPolicyBundleID string
	TasksFile           string

	RateLimitFailClosed   bool
	RateLimitMaxKeys      int
	RateLimitSweepSeconds int
	TaskVerifyRequests    int
	TaskVerifyWindowSecs  int
	RitualClaimRequests   int
	RitualClaimWindowSecs int
	GeneralRequests       int
	GeneralWindowSecs     int
	SocialLinkRequests    int
	SocialLinkWindowSecs  int
	RedisAddr             string
	RedisPassword         string
	RedisDB               int

	Thresholds Thresholds
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                addr,
		PostgresDSN:             os.Getenv("POSTGRES_DSN"),
		AutoMigrate:             envBoolDefault("DB_AUTO_MIGRATE", true),
		LogLevel:                envDefault("LOG_LEVEL", "info"),
		Env:                     envDefault("REWARDGUARD_ENV", "dev"),
		TrustedProxies:          envList("TRUSTED_PROXIES"),
		SessionSecret:           os.Getenv("SESSION_SECRET"),
		SessionTTLSeconds:       envIntDefault("SESSION_TTL_SECONDS", 3600),
		ChallengeDomain:         envDefault("CHALLENGE_DOMAIN", "rewardguard"),
		SocialAPIBaseURL:        os.Getenv("SOCIAL_API_BASE_URL"),
		SocialAPIToken:          os.Getenv("SOCIAL_API_TOKEN"),
		SocialAPITimeoutSeconds: envIntDefault("SOCIAL_API_TIMEOUT_SECONDS", 5),
		ClaimPolicyPath:         os.Getenv("CLAIM_POLICY_PATH"),
		ClaimPolicyBundleID:     envDefault("CLAIM_POLICY_BUNDLE_ID", "claims"),
		TasksFile:               os.Getenv("TASKS_FILE"),
		RateLimitFailClosed:     envBoolDefault("RATE_LIMIT_FAIL_CLOSED", true),
		RateLimitMaxKeys:        envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RateLimitSweepSeconds:   envIntDefault("RATE_LIMIT_SWEEP_SECONDS", 60),
		TaskVerifyRequests:      envIntDefault("RATE_LIMIT_TASK_VERIFY_REQUESTS", 10),
		TaskVerifyWindowSecs:    envIntDefault("RATE_LIMIT_TASK_VERIFY_WINDOW_SECONDS", 60),
		RitualClaimRequests:     envIntDefault("RATE_LIMIT_RITUAL_CLAIM_REQUESTS", 3),
		RitualClaimWindowSecs:   envIntDefault("RATE_LIMIT_RITUAL_CLAIM_WINDOW_SECONDS", 86400),
		GeneralRequests:         envIntDefault("RATE_LIMIT_GENERAL_REQUESTS", 120),
		GeneralWindowSecs:       envIntDefault("RATE_LIMIT_GENERAL_WINDOW_SECONDS", 60),
		SocialLinkRequests:      envIntDefault("RATE_LIMIT_SOCIAL_LINK_REQUESTS", 5),
		SocialLinkWindowSecs:    envIntDefault("RATE_LIMIT_SOCIAL_LINK_WINDOW_SECONDS", 3600),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 envIntDefault("REDIS_DB", 0),
		Thresholds:              thresholdsFromEnv(DefaultThresholds()),
	}
}

// Limiters returns the named limiter configurations.
func (c Config) Limiters() []domain.LimiterConfig {
	return []domain.LimiterConfig{
		{Name: domain.LimiterTaskVerify, MaxRequests: c.TaskVerifyRequests, Window: seconds(c.TaskVerifyWindowSecs)},
		{Name: domain.LimiterRitualClaim, MaxRequests: c.RitualClaimRequests, Window: seconds(c.RitualClaimWindowSecs)},
		{Name: domain.LimiterGeneral, MaxRequests: c.GeneralRequests, Window: seconds(c.GeneralWindowSecs)},
		{Name: domain.LimiterSocialLink, MaxRequests: c.SocialLinkRequests, Window: seconds(c.SocialLinkWindowSecs)},
	}
}

func (c Config) SessionTTL() time.Duration {
	return seconds(c.SessionTTLSeconds)
}

func (c Config) SocialAPITimeout() time.Duration {
	return seconds(c.SocialAPITimeoutSeconds)
}

func (c Config) RateLimitSweepInterval() time.Duration {
	return seconds(c.RateLimitSweepSeconds)
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
