package usecase

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"rewardguard/internal/config"
	"rewardguard/internal/domain"
)

// ReputationScorer derives a bounded trust score from identity links,
// account age, ritual streak and the Sybil risk score.
type ReputationScorer struct {
	Accounts   AccountRepository
	Sybil      *SybilScorer
	Snapshots  ReputationSnapshotRepository
	Thresholds config.Thresholds
	Clock      Clock
	Logger     *slog.Logger
}

func NewReputationScorer(accounts AccountRepository, sybil *SybilScorer, snapshots ReputationSnapshotRepository, thresholds config.Thresholds, clock Clock, logger *slog.Logger) *ReputationScorer {
	return &ReputationScorer{
		Accounts:   accounts,
		Sybil:      sybil,
		Snapshots:  snapshots,
		Thresholds: thresholds,
		Clock:      clock,
		Logger:     logger,
	}
}

// Score returns the reputation of wallet. Unknown wallets score as new
// accounts without identity links.
func (r *ReputationScorer) Score(ctx context.Context, wallet string) (int, error) {
	wallet, err := domain.CanonicalWallet(wallet)
	if err != nil {
		return 0, err
	}
	now := r.now()
	account := domain.Account{Wallet: wallet, CreatedAt: now}
	if r.Accounts != nil {
		stored, err := r.Accounts.GetAccount(ctx, wallet)
		switch {
		case err == nil && stored != nil:
			account = *stored
		case errors.Is(err, domain.ErrNotFound):
		default:
			return 0, err
		}
	}
	sybil := domain.SybilCheckResult{Wallet: wallet}
	if r.Sybil != nil {
		sybil = r.Sybil.Evaluate(ctx, domain.NewFingerprint(account, "", ""), account)
	}
	return r.ScoreAccount(ctx, account, sybil), nil
}

// ScoreAccount scores a loaded account against a Sybil result computed by the
// caller and stores a snapshot when a snapshot repository is configured.
func (r *ReputationScorer) ScoreAccount(ctx context.Context, account domain.Account, sybil domain.SybilCheckResult) int {
	now := r.now()
	score := ComputeReputation(account, sybil.RiskScore, now, r.Thresholds)
	if r.Snapshots != nil {
		err := r.Snapshots.UpsertReputationSnapshot(ctx, domain.ReputationSnapshot{
			Wallet:     account.Wallet,
			Score:      score,
			SybilScore: sybil.RiskScore,
			ComputedAt: now,
		})
		if err != nil {
			r.logger().WarnContext(ctx, "reputation snapshot failed", "wallet", account.Wallet, "error", err)
		}
	}
	return score
}

// ComputeReputation is the pure reputation formula.
func ComputeReputation(account domain.Account, sybilScore int, now time.Time, t config.Thresholds) int {
	score := t.ReputationBase

	linked := 0
	for _, platform := range domain.IdentityPlatforms {
		if _, ok := account.Handle(platform); ok {
			linked++
		}
	}
	if linked > 0 {
		score += t.ReputationFirstIdentity + (linked-1)*t.ReputationExtraIdentity
	}

	age := account.Age(now)
	score += min(int(age/(7*24*time.Hour)), t.ReputationMaxAgeBonus)
	score += min(max(account.RitualStreak, 0), t.ReputationMaxStreakBonus)

	if age > t.ReputationPenaltyMinAge {
		score -= int(math.Round(t.ReputationSybilPenalty * float64(sybilScore)))
	}

	return min(max(score, t.ReputationMin), t.ReputationMax)
}

func (r *ReputationScorer) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *ReputationScorer) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
