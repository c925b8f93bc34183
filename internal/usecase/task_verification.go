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

// TaskVerificationEngine decides reward claims. Stages run strictly in
// order and the first denial ends the claim. Every claim, allowed or
// denied, is written to the audit log.
type TaskVerificationEngine struct {
	Limiter    Limiter
	Signatures SignatureVerifier
	Accounts   AccountRepository
	Tasks      TaskRepository
	Sessions   SessionRepository
	Sybil      *SybilScorer
	Reputation *ReputationScorer
	Checker    ClaimChecker
	Claims     ClaimRepository
	Audit      *AuditEmitter
	// Policy is optional operator rules evaluated after the reputation floor.
	Policy     ClaimPolicy
	Thresholds config.Thresholds
	// RateLimitFailOpen admits claims when the limiter backend errors.
	RateLimitFailOpen bool
	ExternalTimeout   time.Duration
	Clock             Clock
	Logger            *slog.Logger
}

type claimState struct {
	claim      domain.TaskVerificationData
	wallet     string
	account    domain.Account
	task       domain.Task
	sybil      domain.SybilCheckResult
	reputation int
	evidence   domain.Evidence
	evidenceID string
	riskScore  *int
	repScore   *int
}

type claimStage struct {
	name domain.StageName
	run  func(ctx context.Context, st *claimState) *domain.Denial
}

func (e *TaskVerificationEngine) stages() []claimStage {
	return []claimStage{
		{name: domain.StageRateLimit, run: e.rateLimit},
		{name: domain.StageAuthentication, run: e.authenticate},
		{name: domain.StageSybilCheck, run: e.sybilCheck},
		{name: domain.StageReputationGate, run: e.reputationGate},
		{name: domain.StageTypeSpecificVerify, run: e.typeSpecificVerify},
		{name: domain.StageDuplicateCheck, run: e.duplicateCheck},
	}
}

func (e *TaskVerificationEngine) Verify(ctx context.Context, claim domain.TaskVerificationData) domain.VerificationResult {
	st := &claimState{claim: claim}
	result := domain.VerificationResult{Success: true, Stage: domain.StageResult}
	for _, stage := range e.stages() {
		if denial := stage.run(ctx, st); denial != nil {
			result = domain.VerificationResult{Error: denial, Stage: stage.name}
			break
		}
	}
	if result.Success {
		result.Evidence = st.evidence
	}
	result.RiskScore = st.riskScore
	result.ReputationScore = st.repScore

	e.auditLog(ctx, st, result)
	return result
}

func (e *TaskVerificationEngine) rateLimit(ctx context.Context, st *claimState) *domain.Denial {
	if e.Limiter == nil {
		return nil
	}
	key := st.claim.CallerKey
	if key == "" {
		key = "ip:" + strings.TrimSpace(st.claim.IP)
	}
	decision, err := e.Limiter.Allow(ctx, domain.LimiterTaskVerify, key)
	if err != nil {
		e.logger().WarnContext(ctx, "rate limiter unavailable", "limiter", string(domain.LimiterTaskVerify), "error", err)
		if e.RateLimitFailOpen {
			return nil
		}
		return domain.Deny(domain.CodeRateLimitExceeded, "request limits cannot be checked right now; try again shortly")
	}
	if !decision.Allowed {
		return domain.Deny(domain.CodeRateLimitExceeded, fmt.Sprintf("too many claim attempts; try again after %s", decision.ResetAt.UTC().Format(time.RFC3339)))
	}
	return nil
}

func (e *TaskVerificationEngine) authenticate(ctx context.Context, st *claimState) *domain.Denial {
	wallet, denial := authenticateWallet(e.Signatures, e.Thresholds.ChallengeMaxAge, st.claim.Wallet, st.claim.Authenticated, st.claim.Challenge)
	st.wallet = wallet
	if denial != nil {
		return denial
	}

	account, err := e.Accounts.GetAccount(ctx, wallet)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.Deny(domain.CodeAccountNotFound, "no account exists for this wallet")
	case err != nil:
		e.logger().ErrorContext(ctx, "account lookup failed", "wallet", wallet, "error", err)
		return domain.Deny(domain.CodeStoreUnavailable, "account records are unavailable; try again shortly")
	}
	st.account = *account

	task, err := e.Tasks.GetTask(ctx, strings.TrimSpace(st.claim.TaskID))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.Deny(domain.CodeTaskNotFound, fmt.Sprintf("task %q does not exist", st.claim.TaskID))
	case err != nil:
		e.logger().ErrorContext(ctx, "task lookup failed", "task_id", st.claim.TaskID, "error", err)
		return domain.Deny(domain.CodeStoreUnavailable, "task records are unavailable; try again shortly")
	}
	st.task = *task
	return nil
}

func (e *TaskVerificationEngine) sybilCheck(ctx context.Context, st *claimState) *domain.Denial {
	now := e.now()
	fp := domain.NewFingerprint(st.account, st.claim.IP, st.claim.DeviceSignature)
	if e.Sessions != nil {
		err := e.Sessions.RecordSession(ctx, domain.Session{
			Wallet:          st.wallet,
			IP:              fp.IP,
			DeviceSignature: fp.DeviceSignature,
			SeenAt:          now,
		})
		if err != nil {
			e.logger().WarnContext(ctx, "session record failed", "wallet", st.wallet, "error", err)
		}
	}

	st.sybil = e.Sybil.Evaluate(ctx, fp, st.account)
	score := st.sybil.RiskScore
	st.riskScore = &score
	if st.sybil.Allowed {
		return nil
	}
	return domain.Deny(domain.CodeSybilRiskTooHigh, fmt.Sprintf("account risk score %d (%s) is too high: %s",
		score, st.sybil.Tier, strings.Join(st.sybil.Reasons, "; ")))
}

func (e *TaskVerificationEngine) reputationGate(ctx context.Context, st *claimState) *domain.Denial {
	st.reputation = e.Reputation.ScoreAccount(ctx, st.account, st.sybil)
	rep := st.reputation
	st.repScore = &rep
	if rep < e.Thresholds.ReputationFloor {
		return domain.Deny(domain.CodeLowReputation, fmt.Sprintf("reputation %d is below the required %d; link identities or build history first", rep, e.Thresholds.ReputationFloor))
	}
	if e.Policy == nil {
		return nil
	}

	eval, err := e.Policy.Evaluate(ctx, e.policyInput(st))
	if err != nil {
		e.logger().ErrorContext(ctx, "claim policy evaluation failed", "wallet", st.wallet, "task_id", st.task.ID, "error", err)
		return domain.Deny(domain.CodePolicyDenied, "claim rules could not be evaluated")
	}
	if eval.Result.Allow {
		return nil
	}
	// The first rule in order decides the reported code.
	code := domain.CodePolicyDenied
	messages := make([]string, 0, len(eval.Result.Deny))
	for i, deny := range eval.Result.Deny {
		if i == 0 {
			code = domain.PolicyCode(string(deny.Code))
		}
		switch {
		case deny.Message != "":
			messages = append(messages, deny.Message)
		case deny.Rule != "":
			messages = append(messages, deny.Rule)
		default:
			messages = append(messages, string(deny.Code))
		}
	}
	if len(messages) == 0 {
		messages = append(messages, "claim is not permitted by operator rules")
	}
	return domain.Deny(code, strings.Join(messages, "; "))
}

func (e *TaskVerificationEngine) policyInput(st *claimState) domain.ClaimPolicyInput {
	linked := []domain.Platform{}
	for _, platform := range []domain.Platform{domain.PlatformTwitter, domain.PlatformDiscord, domain.PlatformTelegram, domain.PlatformFarcaster} {
		if _, ok := st.account.Handle(platform); ok {
			linked = append(linked, platform)
		}
	}
	return domain.ClaimPolicyInput{
		Wallet:          st.wallet,
		TaskID:          st.task.ID,
		Category:        st.task.Category,
		Platform:        st.task.Platform,
		RiskScore:       st.sybil.RiskScore,
		RiskTier:        st.sybil.Tier,
		Reasons:         st.sybil.Reasons,
		ReputationScore: st.reputation,
		AccountAgeHours: int64(st.account.Age(e.now()) / time.Hour),
		LinkedPlatforms: linked,
	}
}

func (e *TaskVerificationEngine) typeSpecificVerify(ctx context.Context, st *claimState) *domain.Denial {
	if !st.task.Active {
		return domain.Deny(domain.CodeTaskInactive, "this task is no longer accepting claims")
	}
	switch st.task.Category {
	case domain.TaskFollow:
		return e.verifyFollow(ctx, st)
	case domain.TaskEngagement:
		return e.verifyEngagement(ctx, st)
	case domain.TaskCommunityJoin:
		return e.verifyMembership(ctx, st)
	case domain.TaskIdentityLink:
		return e.verifyIdentityLink(st)
	default:
		return domain.Deny(domain.CodeUnknownTaskType, fmt.Sprintf("task category %q is not supported", st.task.Category))
	}
}

func (e *TaskVerificationEngine) linkedHandle(st *claimState) (domain.Platform, string, *domain.Denial) {
	platform := st.task.Platform
	if platform == "" {
		platform = domain.PlatformTwitter
	}
	handle, ok := st.account.Handle(platform)
	if !ok {
		return platform, "", domain.Deny(domain.CodeHandleRequired, fmt.Sprintf("link your %s account before claiming this task", platform))
	}
	return platform, domain.NormalizeHandle(handle), nil
}

func (e *TaskVerificationEngine) verifyFollow(ctx context.Context, st *claimState) *domain.Denial {
	platform, handle, denial := e.linkedHandle(st)
	if denial != nil {
		return denial
	}
	target := domain.NormalizeHandle(st.task.TargetAccount)
	if target == "" {
		return domain.Deny(domain.CodeTaskMisconfigured, "task has no account to follow")
	}
	following, provisional, denial := CheckExternal(ctx, domain.Accept, e.ExternalTimeout, func(ctx context.Context) (bool, error) {
		return checkerOrUnavailable(e.Checker).CheckFollow(ctx, platform, handle, target)
	})
	if denial != nil {
		return denial
	}
	if provisional {
		e.logger().WarnContext(ctx, "follow check unavailable, accepting provisionally", "wallet", st.wallet, "task_id", st.task.ID)
	} else if !following {
		return domain.Deny(domain.CodeVerificationFailed, fmt.Sprintf("@%s does not follow @%s yet", handle, target))
	}
	st.evidence = domain.Evidence{"platform": string(platform), "handle": handle, "target": target, "provisional": provisional}
	st.evidenceID = ""
	return nil
}

func (e *TaskVerificationEngine) verifyEngagement(ctx context.Context, st *claimState) *domain.Denial {
	target, err := domain.ParsePostURL(st.task.TargetPostURL)
	if err != nil || target.PostID == "" {
		return domain.Deny(domain.CodeTaskMisconfigured, "task target post id could not be extracted")
	}
	_, handle, denial := e.linkedHandle(st)
	if denial != nil {
		return denial
	}
	if strings.TrimSpace(st.claim.EvidenceURL) == "" {
		return domain.Deny(domain.CodeVerificationFailed, "submit the link to your reply")
	}
	ref, err := domain.ParsePostURL(st.claim.EvidenceURL)
	if err != nil {
		return domain.Deny(domain.CodeVerificationFailed, "the submitted link is not a post")
	}
	if ref.Author != "" && !domain.SameHandle(ref.Author, handle) {
		return authorshipMismatch(ref.Author, handle)
	}

	post, _, denial := CheckExternal(ctx, domain.Reject, e.ExternalTimeout, func(ctx context.Context) (domain.PostCheck, error) {
		return checkerOrUnavailable(e.Checker).CheckPublicPost(ctx, ref.PostID)
	})
	if denial != nil {
		return denial
	}
	if !post.Exists {
		return domain.Deny(domain.CodeVerificationFailed, "the submitted post does not exist or is not public")
	}
	if post.AuthorHandle != "" && !domain.SameHandle(post.AuthorHandle, handle) {
		return authorshipMismatch(post.AuthorHandle, handle)
	}
	if !post.IsReplyTo(target.PostID) {
		return domain.Deny(domain.CodeVerificationFailed, "the submitted post is not a reply to the task post")
	}
	st.evidence = domain.Evidence{
		"post_id":     ref.PostID,
		"post_url":    ref.Canonical,
		"in_reply_to": target.PostID,
		"author":      handle,
	}
	st.evidenceID = ref.Canonical
	return nil
}

func (e *TaskVerificationEngine) verifyMembership(ctx context.Context, st *claimState) *domain.Denial {
	platform, handle, denial := e.linkedHandle(st)
	if denial != nil {
		return denial
	}
	channel := strings.TrimSpace(st.task.ChannelID)
	if channel == "" {
		return domain.Deny(domain.CodeTaskMisconfigured, "task has no community to join")
	}
	member, provisional, denial := CheckExternal(ctx, domain.Accept, e.ExternalTimeout, func(ctx context.Context) (bool, error) {
		return checkerOrUnavailable(e.Checker).CheckMembership(ctx, platform, handle, channel)
	})
	if denial != nil {
		return denial
	}
	if provisional {
		e.logger().WarnContext(ctx, "membership check unavailable, accepting provisionally", "wallet", st.wallet, "task_id", st.task.ID)
	} else if !member {
		return domain.Deny(domain.CodeVerificationFailed, fmt.Sprintf("%s user %s has not joined %s yet", platform, handle, channel))
	}
	st.evidence = domain.Evidence{"platform": string(platform), "handle": handle, "channel_id": channel, "provisional": provisional}
	return nil
}

func (e *TaskVerificationEngine) verifyIdentityLink(st *claimState) *domain.Denial {
	platform, handle, denial := e.linkedHandle(st)
	if denial != nil {
		return denial
	}
	st.evidence = domain.Evidence{"platform": string(platform), "handle": handle}
	return nil
}

func (e *TaskVerificationEngine) duplicateCheck(ctx context.Context, st *claimState) *domain.Denial {
	err := e.Claims.Reserve(ctx, domain.ClaimRecord{
		ID:         uuid.NewString(),
		Wallet:     st.wallet,
		TaskID:     st.task.ID,
		EvidenceID: st.evidenceID,
		CreatedAt:  e.now(),
	})
	switch {
	case errors.Is(err, domain.ErrDuplicateClaim):
		return domain.Deny(domain.CodeDuplicateClaim, "this task was already claimed by this wallet, or the evidence was already used")
	case err != nil:
		e.logger().ErrorContext(ctx, "claim reservation failed", "wallet", st.wallet, "task_id", st.task.ID, "error", err)
		return domain.Deny(domain.CodeStoreUnavailable, "claim records are unavailable; try again shortly")
	}
	return nil
}

func (e *TaskVerificationEngine) auditLog(ctx context.Context, st *claimState, result domain.VerificationResult) {
	wallet := st.wallet
	if wallet == "" {
		wallet = strings.ToLower(strings.TrimSpace(st.claim.Wallet))
	}
	if wallet == "" {
		wallet = "unknown"
	}
	if err := e.Audit.EmitDecision(ctx, domain.AuditTaskClaim, wallet, st.claim.TaskID, result); err != nil {
		e.logger().WarnContext(ctx, "audit append failed", "wallet", wallet, "task_id", st.claim.TaskID, "error", err)
	}
	level := slog.LevelInfo
	if !result.Success {
		level = slog.LevelWarn
	}
	attrs := []any{"wallet", wallet, "task_id", st.claim.TaskID, "stage", string(result.Stage), "success", result.Success}
	if result.Error != nil {
		attrs = append(attrs, "code", string(result.Error.Code))
	}
	e.logger().Log(ctx, level, "claim decided", attrs...)
}

func authorshipMismatch(author, handle string) *domain.Denial {
	return domain.Deny(domain.CodeAuthorshipMismatch, fmt.Sprintf("the post is by @%s but your linked handle is @%s", domain.NormalizeHandle(author), handle))
}

func (e *TaskVerificationEngine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

func (e *TaskVerificationEngine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
