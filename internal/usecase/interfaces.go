package usecase

import (
	"context"
	"time"

	"rewardguard/internal/domain"
)

type Clock func() time.Time

type AccountRepository interface {
	// GetAccount returns domain.ErrNotFound for unknown wallets.
	GetAccount(ctx context.Context, wallet string) (*domain.Account, error)
	// LinkHandle returns domain.ErrHandleTaken when another wallet already
	// claims the handle on that platform.
	LinkHandle(ctx context.Context, wallet string, platform domain.Platform, handle string) error
}

// SignalStore answers the aggregate questions the Sybil detectors ask of
// the record store. Every count excludes the wallet being evaluated.
type SignalStore interface {
	// RecentAccounts returns up to limit accounts, newest first.
	RecentAccounts(ctx context.Context, limit int) ([]domain.Account, error)
	CountOtherAccountsWithHandle(ctx context.Context, platform domain.Platform, handle, excludeWallet string) (int, error)
	// ListActionTimes returns up to limit action timestamps since the given
	// time, oldest first.
	ListActionTimes(ctx context.Context, wallet string, since time.Time, limit int) ([]time.Time, error)
	CountAccountsByIP(ctx context.Context, ip string, since time.Time, excludeWallet string) (int, error)
	CountAccountsByIPPrefix(ctx context.Context, prefix string, since time.Time, excludeWallet string) (int, error)
	CountAccountsByDevice(ctx context.Context, deviceSignature, excludeWallet string) (int, error)
	CountAccountsCreatedBetween(ctx context.Context, from, to time.Time, excludeWallet string) (int, error)
	// ListRewardEvents returns up to limit reward events, newest first.
	ListRewardEvents(ctx context.Context, wallet string, limit int) ([]domain.RewardEvent, error)
}

type SessionRepository interface {
	RecordSession(ctx context.Context, session domain.Session) error
}

type TaskRepository interface {
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
}

type ClaimRepository interface {
	// Reserve atomically records a verified claim. It returns
	// domain.ErrDuplicateClaim when the (wallet, task) pair or the evidence
	// id is already reserved.
	Reserve(ctx context.Context, record domain.ClaimRecord) error
}

type RitualRepository interface {
	EvidenceUsed(ctx context.Context, evidenceID string) (bool, error)
	CountByHandleSince(ctx context.Context, platform domain.Platform, handle string, since time.Time) (int, error)
	// LastCompletion returns nil when the wallet has no ritual history.
	LastCompletion(ctx context.Context, wallet string) (*domain.RitualCompletion, error)
	// Record stores the completion only if every ritual rule still holds
	// when it is written. It returns domain.ErrDuplicateClaim when the
	// evidence id was used before by any wallet, domain.ErrRitualDoneToday
	// when the wallet already has a completion on the same UTC day, and
	// domain.ErrHandleCapReached when the handle has hit handleCap.Max since
	// handleCap.Since.
	Record(ctx context.Context, completion domain.RitualCompletion, handleCap domain.HandleCap) error
}

type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	ListByWallet(ctx context.Context, wallet string, limit int) ([]domain.AuditEntry, error)
}

type ReputationSnapshotRepository interface {
	UpsertReputationSnapshot(ctx context.Context, snapshot domain.ReputationSnapshot) error
}

// ClaimChecker asks a third-party service whether a claimed public action
// happened. Implementations return domain.ErrExternalUnavailable when the
// service cannot answer.
type ClaimChecker interface {
	CheckPublicPost(ctx context.Context, postID string) (domain.PostCheck, error)
	CheckFollow(ctx context.Context, platform domain.Platform, handle, target string) (bool, error)
	CheckMembership(ctx context.Context, platform domain.Platform, handle, channelID string) (bool, error)
}

type SignatureVerifier interface {
	Verify(address, message, signature string) domain.SignatureDecision
	VerifyChallenge(address, message, signature string, maxAge time.Duration) domain.SignatureDecision
}

type ClaimPolicy interface {
	Evaluate(ctx context.Context, input domain.ClaimPolicyInput) (domain.PolicyEvaluation, error)
}

type Limiter interface {
	Allow(ctx context.Context, name domain.LimiterName, key string) (domain.RateLimitDecision, error)
}
