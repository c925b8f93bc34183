package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"rewardguard/internal/domain"
	"rewardguard/internal/infra/ratelimit"
	"rewardguard/internal/infra/wallet"
	"rewardguard/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type challengeRequest struct {
	Address string `json:"address"`
}

type challengeResponse struct {
	Message   string `json:"message"`
	Nonce     string `json:"nonce"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

type walletLoginRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type sessionResponse struct {
	Token     string `json:"token"`
	Wallet    string `json:"wallet"`
	ExpiresAt string `json:"expires_at"`
}

type signedChallengeInput struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func (in *signedChallengeInput) toDomain() *domain.SignedChallenge {
	if in == nil || (in.Message == "" && in.Signature == "") {
		return nil
	}
	return &domain.SignedChallenge{Message: in.Message, Signature: in.Signature}
}

type verifyTaskRequest struct {
	Wallet      string                `json:"wallet"`
	EvidenceURL string                `json:"evidence_url"`
	Challenge   *signedChallengeInput `json:"challenge,omitempty"`
}

type ritualEligibilityRequest struct {
	Wallet         string `json:"wallet"`
	Platform       string `json:"platform"`
	EvidenceURL    string `json:"evidence_url"`
	EvidenceAuthor string `json:"evidence_author"`
	LinkedHandle   string `json:"linked_handle"`
}

type ritualClaimRequest struct {
	Wallet      string                `json:"wallet"`
	Platform    string                `json:"platform"`
	EvidenceURL string                `json:"evidence_url"`
	Challenge   *signedChallengeInput `json:"challenge,omitempty"`
}

type linkHandleRequest struct {
	Platform string `json:"platform"`
	Handle   string `json:"handle"`
}

type reputationResponse struct {
	Wallet string `json:"wallet"`
	Score  int    `json:"score"`
}

func (s *Server) handleChallenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	address, err := domain.CanonicalWallet(req.Address)
	if err != nil {
		writeError(c, err)
		return
	}
	issuedAt := s.now().UTC().Truncate(time.Second)
	nonce := wallet.NewNonce()
	c.JSON(http.StatusOK, challengeResponse{
		Message:   wallet.BuildChallenge(s.cfg.ChallengeDomain, address, nonce, issuedAt),
		Nonce:     nonce,
		IssuedAt:  issuedAt.Format(time.RFC3339),
		ExpiresAt: issuedAt.Add(s.challengeMaxAge()).Format(time.RFC3339),
	})
}

func (s *Server) handleWalletLogin(c *gin.Context) {
	if s.verifier == nil || s.sessions == nil {
		writeErrorCode(c, http.StatusInternalServerError, "AUTH_CONFIG_ERROR", "wallet sign-in is not configured")
		return
	}
	var req walletLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	decision := s.verifier.VerifyChallenge(req.Address, req.Message, req.Signature, s.challengeMaxAge())
	if !decision.Valid {
		details := map[string]any{}
		message := "signature is invalid"
		if decision.Err != nil {
			details["failure"] = string(decision.Err.Failure)
			message = decision.Err.Error()
		}
		c.JSON(http.StatusUnauthorized, errorResponse{Code: string(domain.CodeInvalidSignature), Message: message, Details: details})
		return
	}
	token, expiresAt, err := s.sessions.Issue(req.Address)
	if err != nil {
		writeError(c, err)
		return
	}
	address, _ := domain.CanonicalWallet(req.Address)
	c.JSON(http.StatusOK, sessionResponse{Token: token, Wallet: address, ExpiresAt: expiresAt.Format(time.RFC3339)})
}

func (s *Server) handleVerifyTask(c *gin.Context) {
	if s.engine == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req verifyTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	claim := domain.TaskVerificationData{
		Wallet:          req.Wallet,
		TaskID:          c.Param("task_id"),
		CallerKey:       ratelimit.CallerKey(c.ClientIP(), c.Request.Header),
		IP:              c.ClientIP(),
		DeviceSignature: deviceSignature(c),
		EvidenceURL:     req.EvidenceURL,
		Challenge:       req.Challenge.toDomain(),
		SubmittedAt:     s.now(),
	}
	if w, ok := sessionWallet(c); ok {
		if req.Wallet != "" && !strings.EqualFold(strings.TrimSpace(req.Wallet), w) {
			writeErrorCode(c, http.StatusForbidden, "WALLET_MISMATCH", "the session belongs to another wallet")
			return
		}
		claim.Wallet = w
		claim.Authenticated = true
	}
	writeResult(c, s.engine.Verify(c.Request.Context(), claim))
}

func (s *Server) handleRitualEligibility(c *gin.Context) {
	if s.rituals == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req ritualEligibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	platform, ok := parsePlatform(req.Platform)
	if !ok {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_PLATFORM", "unsupported platform")
		return
	}
	handle := req.LinkedHandle
	if handle == "" && s.accounts != nil {
		if account, err := s.accounts.GetAccount(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Wallet))); err == nil {
			handle, _ = account.Handle(platform)
		}
	}
	c.JSON(http.StatusOK, s.rituals.CheckEligibility(c.Request.Context(), usecase.RitualCheck{
		Wallet:          req.Wallet,
		Platform:        platform,
		EvidenceURL:     req.EvidenceURL,
		EvidenceAuthor:  req.EvidenceAuthor,
		LinkedHandle:    handle,
		IP:              c.ClientIP(),
		DeviceSignature: deviceSignature(c),
	}))
}

func (s *Server) handleRitualClaim(c *gin.Context) {
	if s.rituals == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req ritualClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	platform, ok := parsePlatform(req.Platform)
	if !ok {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_PLATFORM", "unsupported platform")
		return
	}
	claim := usecase.RitualClaim{
		RitualCheck: usecase.RitualCheck{
			Wallet:          req.Wallet,
			Platform:        platform,
			EvidenceURL:     req.EvidenceURL,
			IP:              c.ClientIP(),
			DeviceSignature: deviceSignature(c),
		},
		CallerKey: ratelimit.CallerKey(c.ClientIP(), c.Request.Header),
		Challenge: req.Challenge.toDomain(),
	}
	if w, ok := sessionWallet(c); ok {
		if req.Wallet != "" && !strings.EqualFold(strings.TrimSpace(req.Wallet), w) {
			writeErrorCode(c, http.StatusForbidden, "WALLET_MISMATCH", "the session belongs to another wallet")
			return
		}
		claim.Wallet = w
		claim.Authenticated = true
	}
	writeResult(c, s.rituals.Claim(c.Request.Context(), claim))
}

func (s *Server) handleSybilCheck(c *gin.Context) {
	if s.sybil == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	fp := domain.UserFingerprint{
		Wallet:          c.Param("address"),
		IP:              c.ClientIP(),
		DeviceSignature: deviceSignature(c),
	}
	result, err := s.sybil.CheckUser(c.Request.Context(), fp)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleReputation(c *gin.Context) {
	if s.reputation == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	address, err := domain.CanonicalWallet(c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	score, err := s.reputation.Score(c.Request.Context(), address)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reputationResponse{Wallet: address, Score: score})
}

func (s *Server) handleLinkHandle(c *gin.Context) {
	if s.accounts == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req linkHandleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	platform, ok := domain.ParsePlatform(req.Platform)
	if !ok {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_PLATFORM", "unsupported platform")
		return
	}
	handle := domain.NormalizeHandle(req.Handle)
	if handle == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_HANDLE", "handle is required")
		return
	}
	w, _ := sessionWallet(c)
	if err := s.accounts.LinkHandle(c.Request.Context(), w, platform, handle); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w, "platform": platform, "handle": handle})
}

func (s *Server) challengeMaxAge() time.Duration {
	if s.cfg.Thresholds.ChallengeMaxAge > 0 {
		return s.cfg.Thresholds.ChallengeMaxAge
	}
	return wallet.DefaultChallengeMaxAge
}

// parsePlatform defaults an empty platform to twitter.
func parsePlatform(value string) (domain.Platform, bool) {
	if strings.TrimSpace(value) == "" {
		return domain.PlatformTwitter, true
	}
	return domain.ParsePlatform(value)
}

// writeResult renders a claim decision. Denials keep the full result body
// and carry a status derived from the denial code.
func writeResult(c *gin.Context, result domain.VerificationResult) {
	if result.Success || result.Error == nil {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(denialStatus(result.Error.Code), result)
}

func denialStatus(code domain.ErrorCode) int {
	switch code {
	case domain.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case domain.CodeInvalidSignature:
		return http.StatusUnauthorized
	case domain.CodeAccountNotFound, domain.CodeTaskNotFound:
		return http.StatusNotFound
	case domain.CodeDuplicateClaim, domain.CodeAlreadyClaimedToday:
		return http.StatusConflict
	case domain.CodeSybilRiskTooHigh, domain.CodeLowReputation, domain.CodePolicyDenied, domain.CodeHandleFrequencyExceeded:
		return http.StatusForbidden
	case domain.CodeTaskInactive:
		return http.StatusGone
	case domain.CodeExternalServiceUnavailable, domain.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case domain.CodeTaskMisconfigured, domain.CodeUnknownTaskType:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidAddress):
		status, code = http.StatusBadRequest, "INVALID_ADDRESS"
	case errors.Is(err, domain.ErrHandleTaken):
		status, code = http.StatusConflict, "HANDLE_TAKEN"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrExternalUnavailable):
		status, code = http.StatusServiceUnavailable, string(domain.CodeExternalServiceUnavailable)
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeErrorCode(c, status, code, message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func abortWithErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
