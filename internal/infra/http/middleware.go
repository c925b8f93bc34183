package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"rewardguard/internal/domain"
	"rewardguard/internal/infra/ratelimit"

	"github.com/gin-gonic/gin"
)

const walletContextKey = "wallet"

func (s *Server) rateLimited(name domain.LimiterName) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limits == nil {
			c.Next()
			return
		}
		key := ratelimit.CallerKey(c.ClientIP(), c.Request.Header)
		decision, err := s.limits.Allow(c.Request.Context(), name, key)
		if err != nil {
			s.logger.WarnContext(c.Request.Context(), "rate limiter unavailable", "limiter", string(name), "error", err)
			if s.rateLimitFailClosed {
				abortWithErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
				return
			}
			c.Next()
			return
		}
		s.writeRateLimitHeaders(c, decision)
		if !decision.Allowed {
			abortWithErrorCode(c, http.StatusTooManyRequests, string(domain.CodeRateLimitExceeded), "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func (s *Server) writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(decision.ResetAt.Sub(s.now()) / time.Second)
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}

// requireSession rejects requests without a valid wallet session token.
func (s *Server) requireSession(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		abortWithErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
		return
	}
	if !s.bindSession(c, token) {
		return
	}
	c.Next()
}

// optionalSession binds the session wallet when a bearer token is sent.
// Requests without one must authenticate in the body with a signed
// challenge.
func (s *Server) optionalSession(c *gin.Context) {
	if token := extractBearerToken(c.GetHeader("Authorization")); token != "" {
		if !s.bindSession(c, token) {
			return
		}
	}
	c.Next()
}

func (s *Server) bindSession(c *gin.Context, token string) bool {
	if s.sessions == nil {
		abortWithErrorCode(c, http.StatusInternalServerError, "AUTH_CONFIG_ERROR", "session tokens are not configured")
		return false
	}
	wallet, err := s.sessions.Parse(token)
	if err != nil {
		abortWithErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
		return false
	}
	c.Set(walletContextKey, wallet)
	return true
}

func sessionWallet(c *gin.Context) (string, bool) {
	raw, ok := c.Get(walletContextKey)
	if !ok {
		return "", false
	}
	wallet, ok := raw.(string)
	return wallet, ok && wallet != ""
}

func extractBearerToken(value string) string {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return ""
	}
	return strings.TrimSpace(value[len("bearer "):])
}

// deviceSignature prefers an explicit client signature and otherwise hashes
// the reported device traits.
func deviceSignature(c *gin.Context) string {
	if sig := strings.TrimSpace(c.GetHeader("X-Device-Signature")); sig != "" {
		return sig
	}
	return domain.DeviceSignature(c.GetHeader("User-Agent"), c.GetHeader("X-Screen-Resolution"), c.GetHeader("X-Timezone"))
}
