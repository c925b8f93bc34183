package domain

import "strings"

// ClaimPolicyInput is the document handed to the operator claim policy.
type ClaimPolicyInput struct {
	Wallet          string       `json:"wallet"`
	TaskID          string       `json:"task_id"`
	Category        TaskCategory `json:"category"`
	Platform        Platform     `json:"platform"`
	RiskScore       int          `json:"risk_score"`
	RiskTier        RiskTier     `json:"risk_tier"`
	Reasons         []string     `json:"reasons"`
	ReputationScore int          `json:"reputation_score"`
	AccountAgeHours int64        `json:"account_age_hours"`
	LinkedPlatforms []Platform   `json:"linked_platforms"`
}

// PolicyDeny is one fired operator rule. Code is the denial reported for the
// claim and Rule names the rule that produced it.
type PolicyDeny struct {
	Code    ErrorCode `json:"code"`
	Rule    string    `json:"rule,omitempty"`
	Message string    `json:"message,omitempty"`
}

// PolicyCode maps a code written in a policy onto the claim codes a policy
// may report. Anything else is reported as POLICY_DENIED.
func PolicyCode(raw string) ErrorCode {
	switch code := ErrorCode(strings.ToUpper(strings.TrimSpace(raw))); code {
	case CodeSybilRiskTooHigh, CodeLowReputation, CodeHandleRequired, CodePolicyDenied:
		return code
	default:
		return CodePolicyDenied
	}
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}

type PolicyEvaluation struct {
	BundleID   string       `json:"bundle_id,omitempty"`
	BundleHash string       `json:"bundle_hash"`
	Result     PolicyResult `json:"result"`
}
