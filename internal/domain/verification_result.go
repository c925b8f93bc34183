package domain

type ErrorCode string

const (
	CodeRateLimitExceeded          ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInvalidSignature           ErrorCode = "INVALID_SIGNATURE"
	CodeSybilRiskTooHigh           ErrorCode = "SYBIL_RISK_TOO_HIGH"
	CodeLowReputation              ErrorCode = "LOW_REPUTATION"
	CodeAuthorshipMismatch         ErrorCode = "AUTHORSHIP_MISMATCH"
	CodeDuplicateClaim             ErrorCode = "DUPLICATE_CLAIM"
	CodeExternalServiceUnavailable ErrorCode = "EXTERNAL_SERVICE_UNAVAILABLE"
	CodeTaskMisconfigured          ErrorCode = "TASK_MISCONFIGURED"
	CodeUnknownTaskType            ErrorCode = "UNKNOWN_TASK_TYPE"
	CodeVerificationFailed         ErrorCode = "VERIFICATION_FAILED"
	CodeAccountNotFound            ErrorCode = "ACCOUNT_NOT_FOUND"
	CodeTaskNotFound               ErrorCode = "TASK_NOT_FOUND"
	CodeTaskInactive               ErrorCode = "TASK_INACTIVE"
	CodePolicyDenied               ErrorCode = "POLICY_DENIED"
	CodeHandleRequired             ErrorCode = "HANDLE_REQUIRED"
	CodeHandleFrequencyExceeded    ErrorCode = "HANDLE_FREQUENCY_EXCEEDED"
	CodeAlreadyClaimedToday        ErrorCode = "ALREADY_CLAIMED_TODAY"
	CodeStoreUnavailable           ErrorCode = "STORE_UNAVAILABLE"
)

// Denial is a gate's refusal. Denials are regular results, not errors.
type Denial struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func Deny(code ErrorCode, message string) *Denial {
	return &Denial{Code: code, Message: message, Retryable: retryable(code)}
}

func retryable(code ErrorCode) bool {
	switch code {
	case CodeRateLimitExceeded, CodeExternalServiceUnavailable, CodeVerificationFailed,
		CodeInvalidSignature, CodeHandleRequired, CodeStoreUnavailable:
		return true
	}
	return false
}

type Evidence map[string]any

type VerificationResult struct {
	Success         bool      `json:"success"`
	Error           *Denial   `json:"error,omitempty"`
	Evidence        Evidence  `json:"evidence,omitempty"`
	RiskScore       *int      `json:"risk_score,omitempty"`
	ReputationScore *int      `json:"reputation_score,omitempty"`
	Stage           StageName `json:"stage"`
}

type StageName string

const (
	StageRateLimit          StageName = "rate_limit"
	StageAuthentication     StageName = "authentication"
	StageSybilCheck         StageName = "sybil_check"
	StageReputationGate     StageName = "reputation_gate"
	StageTypeSpecificVerify StageName = "type_specific_verify"
	StageDuplicateCheck     StageName = "duplicate_check"
	StageResult             StageName = "result"
)
