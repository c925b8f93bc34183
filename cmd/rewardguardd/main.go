package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"rewardguard/internal/config"
	"rewardguard/internal/infra/db"
	httpinfra "rewardguard/internal/infra/http"
	"rewardguard/internal/infra/policyopa"
	"rewardguard/internal/infra/ratelimit"
	"rewardguard/internal/infra/social"
	"rewardguard/internal/infra/storemem"
	"rewardguard/internal/infra/wallet"
	"rewardguard/internal/usecase"

	"github.com/joho/godotenv"
)

// ports groups the record store behind whichever backend is configured.
type ports struct {
	mode      string
	accounts  usecase.AccountRepository
	signals   usecase.SignalStore
	sessions  usecase.SessionRepository
	tasks     usecase.TaskRepository
	claims    usecase.ClaimRepository
	rituals   usecase.RitualRepository
	audit     usecase.AuditLogRepository
	snapshots usecase.ReputationSnapshotRepository
	putTask   taskWriter
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}
	cfg := config.FromEnv()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	store, err := openStore(cfg, logger)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	if cfg.TasksFile != "" {
		n, err := seedTasks(context.Background(), cfg.TasksFile, store.putTask)
		if err != nil {
			log.Fatalf("failed to seed tasks: %v", err)
		}
		logger.Info("tasks seeded", "file", cfg.TasksFile, "count", n)
	}

	limits, stop, err := openLimiter(cfg, logger)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}
	defer stop()

	var checker usecase.ClaimChecker
	if client, err := social.NewFromConfig(cfg); err != nil {
		logger.Warn("social checks disabled, external claims fall back to their unavailable policy", "error", err)
	} else {
		checker = client
	}

	var policy usecase.ClaimPolicy
	if cfg.ClaimPolicyPath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(context.Background(), cfg.ClaimPolicyPath, cfg.ClaimPolicyBundleID)
		if err != nil {
			log.Fatalf("failed to load claim policy: %v", err)
		}
		logger.Info("claim policy loaded", "bundle_id", cfg.ClaimPolicyBundleID, "bundle_hash", engine.BundleHash())
		policy = engine
	}

	var sessions *wallet.SessionIssuer
	if cfg.SessionSecret != "" {
		sessions, err = wallet.NewSessionIssuer([]byte(cfg.SessionSecret), cfg.SessionTTL(), time.Now)
		if err != nil {
			log.Fatalf("failed to init sessions: %v", err)
		}
	} else {
		logger.Warn("SESSION_SECRET not set; wallet sessions disabled")
	}

	thresholds := cfg.Thresholds
	verifier := wallet.NewVerifier(time.Now, thresholds.ChallengeFutureSkew)
	sybil := usecase.NewSybilScorer(store.signals, store.accounts, thresholds, time.Now, logger)
	reputation := usecase.NewReputationScorer(store.accounts, sybil, store.snapshots, thresholds, time.Now, logger)
	audit := usecase.NewAuditEmitter(store.audit, time.Now)

	engine := &usecase.TaskVerificationEngine{
		Limiter:           limits,
		Signatures:        verifier,
		Accounts:          store.accounts,
		Tasks:             store.tasks,
		Sessions:          store.sessions,
		Sybil:             sybil,
		Reputation:        reputation,
		Checker:           checker,
		Claims:            store.claims,
		Audit:             audit,
		Policy:            policy,
		Thresholds:        thresholds,
		RateLimitFailOpen: !cfg.RateLimitFailClosed,
		ExternalTimeout:   cfg.SocialAPITimeout(),
		Clock:             time.Now,
		Logger:            logger,
	}
	rituals := &usecase.RitualRules{
		Rituals:           store.rituals,
		Accounts:          store.accounts,
		Sybil:             sybil,
		Limiter:           limits,
		Signatures:        verifier,
		Checker:           checker,
		Audit:             audit,
		Thresholds:        thresholds,
		RateLimitFailOpen: !cfg.RateLimitFailClosed,
		ExternalTimeout:   cfg.SocialAPITimeout(),
		Clock:             time.Now,
		Logger:            logger,
	}

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Engine:     engine,
		Rituals:    rituals,
		Sybil:      sybil,
		Reputation: reputation,
		Accounts:   store.accounts,
		Verifier:   verifier,
		Sessions:   sessions,
		Limits:     limits,
		Clock:      time.Now,
		Logger:     logger,
		StoreMode:  store.mode,
	})
	logger.Info("rewardguard listening", "addr", cfg.HTTPAddr, "store", store.mode)
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openStore(cfg config.Config, logger *slog.Logger) (ports, error) {
	store, err := db.NewStore(cfg, logger)
	if err != nil {
		return ports{}, err
	}
	if store == nil {
		mem := storemem.New()
		return ports{
			mode:      "memory",
			accounts:  mem,
			signals:   mem,
			sessions:  mem,
			tasks:     mem,
			claims:    mem,
			rituals:   mem,
			audit:     mem,
			snapshots: mem,
			putTask:   memTaskWriter{mem},
		}, nil
	}
	return ports{
		mode:      "db",
		accounts:  store.Accounts,
		signals:   store.Accounts,
		sessions:  store.Accounts,
		tasks:     store.Tasks,
		claims:    store.Claims,
		rituals:   store.Rituals,
		audit:     store.Audit,
		snapshots: store.Snapshots,
		putTask:   store.Tasks,
	}, nil
}

// openLimiter prefers Redis so limits hold across replicas. The in-memory
// fallback is swept on a schedule.
func openLimiter(cfg config.Config, logger *slog.Logger) (*ratelimit.Policy, func(), error) {
	if cfg.RedisAddr != "" {
		redis, err := ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, time.Now)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := redis.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "addr", cfg.RedisAddr, "error", err)
		}
		return ratelimit.NewPolicy(redis, cfg.Limiters()), func() { _ = redis.Close() }, nil
	}

	mem := ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{MaxKeys: cfg.RateLimitMaxKeys})
	sched, err := ratelimit.StartSweeper(mem, cfg.RateLimitSweepInterval(), logger)
	if err != nil {
		return nil, nil, err
	}
	return ratelimit.NewPolicy(mem, cfg.Limiters()), func() { _ = sched.Shutdown() }, nil
}
