package http

import (
	"log/slog"
	"net/http"
	"time"

	"rewardguard/internal/config"
	"rewardguard/internal/domain"
	"rewardguard/internal/infra/wallet"
	"rewardguard/internal/usecase"

	"github.com/gin-gonic/gin"
)

// Server exposes the claim pipeline over HTTP.
type Server struct {
	cfg config.Config
	r   *gin.Engine

	engine     *usecase.TaskVerificationEngine
	rituals    *usecase.RitualRules
	sybil      *usecase.SybilScorer
	reputation *usecase.ReputationScorer
	accounts   usecase.AccountRepository

	verifier *wallet.Verifier
	sessions *wallet.SessionIssuer

	limits              usecase.Limiter
	rateLimitFailClosed bool

	clock  usecase.Clock
	logger *slog.Logger
	dbMode string
}

type ServerDeps struct {
	Engine     *usecase.TaskVerificationEngine
	Rituals    *usecase.RitualRules
	Sybil      *usecase.SybilScorer
	Reputation *usecase.ReputationScorer
	Accounts   usecase.AccountRepository
	Verifier   *wallet.Verifier
	Sessions   *wallet.SessionIssuer
	Limits     usecase.Limiter
	Clock      usecase.Clock
	Logger     *slog.Logger
	// StoreMode is reported by /healthz, "db" or "memory".
	StoreMode string
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	// Forwarding headers are only honoured from configured proxies, so
	// ClientIP cannot be chosen by the caller.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxies, trusting none", "proxies", cfg.TrustedProxies, "error", err)
		_ = r.SetTrustedProxies(nil)
	}

	s := &Server{
		cfg:                 cfg,
		r:                   r,
		engine:              deps.Engine,
		rituals:             deps.Rituals,
		sybil:               deps.Sybil,
		reputation:          deps.Reputation,
		accounts:            deps.Accounts,
		verifier:            deps.Verifier,
		sessions:            deps.Sessions,
		limits:              deps.Limits,
		rateLimitFailClosed: cfg.RateLimitFailClosed,
		clock:               deps.Clock,
		logger:              logger,
		dbMode:              deps.StoreMode,
	}
	if s.dbMode == "" {
		s.dbMode = "memory"
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.dbMode})
	})

	v1 := s.r.Group("/v1")
	{
		general := s.rateLimited(domain.LimiterGeneral)

		v1.POST("/auth/challenge", general, s.handleChallenge)
		v1.POST("/auth/wallet", general, s.handleWalletLogin)

		// Claim endpoints are limited inside the claim pipeline so the
		// denial is audited with the claim.
		v1.POST("/tasks/:task_id/verify", s.optionalSession, s.handleVerifyTask)
		v1.POST("/rituals/claim", s.optionalSession, s.handleRitualClaim)
		v1.POST("/rituals/eligibility", general, s.handleRitualEligibility)

		v1.GET("/wallets/:address/sybil", general, s.handleSybilCheck)
		v1.GET("/wallets/:address/reputation", general, s.handleReputation)

		v1.POST("/social/links", s.rateLimited(domain.LimiterSocialLink), s.requireSession, s.handleLinkHandle)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

// Handler returns the routed handler, for tests and for embedding in an
// http.Server.
func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

func (s *Server) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}
