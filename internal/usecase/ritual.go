package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"rewardguard/internal/config"
	"rewardguard/internal/domain"
)

// RitualRules guards the daily ritual flow: one completion per wallet per
// UTC day, globally unique evidence, a per-handle weekly cap and a final
// Sybil check.
type RitualRules struct {
	Rituals    RitualRepository
	Accounts   AccountRepository
	Sybil      *SybilScorer
	Limiter    Limiter
	Signatures SignatureVerifier
	// Checker confirms who wrote the evidence post. Without one every
	// claim is denied as unverifiable.
	Checker    ClaimChecker
	Audit      *AuditEmitter
	Thresholds config.Thresholds
	// RateLimitFailOpen admits claims when the limiter backend errors.
	RateLimitFailOpen bool
	ExternalTimeout   time.Duration
	Clock             Clock
	Logger            *slog.Logger
}

type RitualCheck struct {
	Wallet          string
	Platform        domain.Platform
	EvidenceURL     string
	EvidenceAuthor  string
	LinkedHandle    string
	IP              string
	DeviceSignature string
}

type RitualEligibility struct {
	Allowed    bool                     `json:"allowed"`
	Reasons    []string                 `json:"reasons"`
	Code       domain.ErrorCode         `json:"code,omitempty"`
	Retryable  bool                     `json:"retryable"`
	EvidenceID string                   `json:"evidence_id,omitempty"`
	Sybil      *domain.SybilCheckResult `json:"sybil,omitempty"`
}

type RitualClaim struct {
	RitualCheck
	CallerKey     string
	Authenticated bool
	Challenge     *domain.SignedChallenge
}

func deniedRitual(code domain.ErrorCode, reasons ...string) RitualEligibility {
	return RitualEligibility{
		Reasons:   reasons,
		Code:      code,
		Retryable: domain.Deny(code, "").Retryable,
	}
}

// CheckEligibility applies the ritual rules in order and stops at the first
// failing rule. Authorship mismatch is never retryable.
func (r *RitualRules) CheckEligibility(ctx context.Context, check RitualCheck) RitualEligibility {
	wallet, err := domain.CanonicalWallet(check.Wallet)
	if err != nil {
		return deniedRitual(domain.CodeInvalidSignature, "wallet address is malformed")
	}
	platform := check.Platform
	if platform == "" {
		platform = domain.PlatformTwitter
	}
	handle := domain.NormalizeHandle(check.LinkedHandle)
	if handle == "" {
		return deniedRitual(domain.CodeHandleRequired, fmt.Sprintf("link your %s account before completing the ritual", platform))
	}
	author := check.EvidenceAuthor
	if author == "" {
		if ref, err := domain.ParsePostURL(check.EvidenceURL); err == nil {
			author = ref.Author
		}
	}
	if !domain.SameHandle(author, handle) {
		return deniedRitual(domain.CodeAuthorshipMismatch,
			fmt.Sprintf("the evidence is by @%s but your linked handle is @%s", domain.NormalizeHandle(author), handle))
	}

	evidenceID := domain.NormalizeEvidenceURL(check.EvidenceURL)
	if evidenceID == "" {
		return deniedRitual(domain.CodeVerificationFailed, "submit the link to your ritual post")
	}
	used, err := r.Rituals.EvidenceUsed(ctx, evidenceID)
	if err != nil {
		return r.storeDown(ctx, "ritual evidence lookup failed", wallet, err)
	}
	if used {
		return deniedRitual(domain.CodeDuplicateClaim, "this evidence was already used for a ritual")
	}

	now := r.now()
	count, err := r.Rituals.CountByHandleSince(ctx, platform, handle, now.Add(-r.Thresholds.RitualHandleWindow))
	if err != nil {
		return r.storeDown(ctx, "ritual handle count failed", wallet, err)
	}
	if count >= r.Thresholds.RitualHandleWeeklyCap {
		return deniedRitual(domain.CodeHandleFrequencyExceeded,
			fmt.Sprintf("@%s already completed %d rituals in the last %s", handle, count, humanDuration(r.Thresholds.RitualHandleWindow)))
	}

	last, err := r.Rituals.LastCompletion(ctx, wallet)
	if err != nil {
		return r.storeDown(ctx, "ritual history lookup failed", wallet, err)
	}
	if last != nil && sameUTCDay(last.CreatedAt, now) {
		return deniedRitual(domain.CodeAlreadyClaimedToday, "today's ritual is already complete; come back after midnight UTC")
	}

	account := domain.Account{Wallet: wallet, CreatedAt: now}
	if r.Accounts != nil {
		stored, err := r.Accounts.GetAccount(ctx, wallet)
		switch {
		case err == nil && stored != nil:
			account = *stored
		case errors.Is(err, domain.ErrNotFound):
		default:
			return r.storeDown(ctx, "ritual account lookup failed", wallet, err)
		}
	}
	sybil := r.Sybil.Evaluate(ctx, domain.NewFingerprint(account, check.IP, check.DeviceSignature), account)
	if !sybil.Allowed {
		out := deniedRitual(domain.CodeSybilRiskTooHigh, sybil.Reasons...)
		out.Sybil = &sybil
		return out
	}
	return RitualEligibility{
		Allowed:    true,
		Reasons:    []string{},
		EvidenceID: evidenceID,
		Sybil:      &sybil,
	}
}

// Claim rate-limits, authenticates and checks one ritual completion, then
// records it and advances the wallet's streak.
func (r *RitualRules) Claim(ctx context.Context, claim RitualClaim) domain.VerificationResult {
	wallet := strings.ToLower(strings.TrimSpace(claim.Wallet))
	result := r.claim(ctx, &wallet, claim)
	if err := r.Audit.EmitDecision(ctx, domain.AuditRitualClaim, orUnknown(wallet), "", result); err != nil {
		r.logger().WarnContext(ctx, "audit append failed", "wallet", wallet, "error", err)
	}
	return result
}

func (r *RitualRules) claim(ctx context.Context, wallet *string, claim RitualClaim) domain.VerificationResult {
	deny := func(stage domain.StageName, denial *domain.Denial) domain.VerificationResult {
		return domain.VerificationResult{Error: denial, Stage: stage}
	}

	if r.Limiter != nil {
		key := claim.CallerKey
		if key == "" {
			key = "ip:" + strings.TrimSpace(claim.IP)
		}
		decision, err := r.Limiter.Allow(ctx, domain.LimiterRitualClaim, key)
		if err != nil {
			r.logger().WarnContext(ctx, "rate limiter unavailable", "limiter", string(domain.LimiterRitualClaim), "error", err)
			if !r.RateLimitFailOpen {
				return deny(domain.StageRateLimit, domain.Deny(domain.CodeRateLimitExceeded, "request limits cannot be checked right now; try again shortly"))
			}
		} else if !decision.Allowed {
			return deny(domain.StageRateLimit, domain.Deny(domain.CodeRateLimitExceeded, "too many ritual attempts; try again later"))
		}
	}

	canonical, denial := authenticateWallet(r.Signatures, r.Thresholds.ChallengeMaxAge, claim.Wallet, claim.Authenticated, claim.Challenge)
	if canonical != "" {
		*wallet = canonical
	}
	if denial != nil {
		return deny(domain.StageAuthentication, denial)
	}

	platform := claim.Platform
	if platform == "" {
		platform = domain.PlatformTwitter
	}
	account, err := r.Accounts.GetAccount(ctx, canonical)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return deny(domain.StageAuthentication, domain.Deny(domain.CodeAccountNotFound, "no account exists for this wallet"))
	case err != nil:
		r.logger().ErrorContext(ctx, "account lookup failed", "wallet", canonical, "error", err)
		return deny(domain.StageAuthentication, domain.Deny(domain.CodeStoreUnavailable, "account records are unavailable; try again shortly"))
	}
	handle, _ := account.Handle(platform)

	check := claim.RitualCheck
	check.Wallet = canonical
	check.Platform = platform
	check.LinkedHandle = handle
	check.EvidenceAuthor = ""
	if handle != "" {
		author, denial := r.evidenceAuthor(ctx, claim.EvidenceURL)
		if denial != nil {
			return deny(domain.StageTypeSpecificVerify, denial)
		}
		check.EvidenceAuthor = author
	}
	eligibility := r.CheckEligibility(ctx, check)
	var riskScore *int
	if eligibility.Sybil != nil {
		score := eligibility.Sybil.RiskScore
		riskScore = &score
	}
	if !eligibility.Allowed {
		stage := domain.StageTypeSpecificVerify
		if eligibility.Code == domain.CodeSybilRiskTooHigh {
			stage = domain.StageSybilCheck
		}
		out := deny(stage, domain.Deny(eligibility.Code, strings.Join(eligibility.Reasons, "; ")))
		out.RiskScore = riskScore
		return out
	}

	now := r.now()
	streak := 1
	last, err := r.Rituals.LastCompletion(ctx, canonical)
	if err != nil {
		r.logger().WarnContext(ctx, "ritual history lookup failed", "wallet", canonical, "error", err)
	} else if last != nil && sameUTCDay(last.CreatedAt.AddDate(0, 0, 1), now) {
		streak = last.Streak + 1
	}

	completion := domain.RitualCompletion{
		ID:          uuid.NewString(),
		Wallet:      canonical,
		Platform:    platform,
		Handle:      domain.NormalizeHandle(handle),
		EvidenceID:  eligibility.EvidenceID,
		EvidenceURL: strings.TrimSpace(claim.EvidenceURL),
		Streak:      streak,
		CreatedAt:   now,
	}
	err = r.Rituals.Record(ctx, completion, domain.HandleCap{
		Max:   r.Thresholds.RitualHandleWeeklyCap,
		Since: now.Add(-r.Thresholds.RitualHandleWindow),
	})
	if err != nil {
		var denial *domain.Denial
		switch {
		case errors.Is(err, domain.ErrDuplicateClaim):
			denial = domain.Deny(domain.CodeDuplicateClaim, "this evidence was already used for a ritual")
		case errors.Is(err, domain.ErrRitualDoneToday):
			denial = domain.Deny(domain.CodeAlreadyClaimedToday, "today's ritual is already complete; come back after midnight UTC")
		case errors.Is(err, domain.ErrHandleCapReached):
			denial = domain.Deny(domain.CodeHandleFrequencyExceeded,
				fmt.Sprintf("@%s already completed %d rituals in the last %s", completion.Handle, r.Thresholds.RitualHandleWeeklyCap, humanDuration(r.Thresholds.RitualHandleWindow)))
		default:
			r.logger().ErrorContext(ctx, "ritual record failed", "wallet", canonical, "error", err)
			denial = domain.Deny(domain.CodeStoreUnavailable, "ritual records are unavailable; try again shortly")
		}
		out := deny(domain.StageDuplicateCheck, denial)
		out.RiskScore = riskScore
		return out
	}

	return domain.VerificationResult{
		Success: true,
		Stage:   domain.StageResult,
		Evidence: domain.Evidence{
			"evidence_url": completion.EvidenceID,
			"handle":       completion.Handle,
			"streak":       completion.Streak,
		},
		RiskScore: riskScore,
	}
}

// evidenceAuthor asks the social network who wrote the evidence post. The
// name in the URL path is not trusted because the network resolves any name
// in that position.
func (r *RitualRules) evidenceAuthor(ctx context.Context, evidenceURL string) (string, *domain.Denial) {
	ref, err := domain.ParsePostURL(evidenceURL)
	if err != nil || ref.PostID == "" {
		return "", domain.Deny(domain.CodeVerificationFailed, "submit the link to your ritual post")
	}
	post, _, denial := CheckExternal(ctx, domain.Reject, r.ExternalTimeout, func(ctx context.Context) (domain.PostCheck, error) {
		return checkerOrUnavailable(r.Checker).CheckPublicPost(ctx, ref.PostID)
	})
	if denial != nil {
		return "", denial
	}
	if !post.Exists {
		return "", domain.Deny(domain.CodeVerificationFailed, "the submitted post does not exist or is not public")
	}
	if post.AuthorHandle == "" {
		return "", domain.Deny(domain.CodeVerificationFailed, "the author of the submitted post could not be confirmed")
	}
	return post.AuthorHandle, nil
}

func (r *RitualRules) storeDown(ctx context.Context, msg, wallet string, err error) RitualEligibility {
	r.logger().ErrorContext(ctx, msg, "wallet", wallet, "error", err)
	return deniedRitual(domain.CodeStoreUnavailable, "ritual records are unavailable; try again shortly")
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func orUnknown(wallet string) string {
	if wallet == "" {
		return "unknown"
	}
	return wallet
}

func (r *RitualRules) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *RitualRules) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
