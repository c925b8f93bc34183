package domain

import "time"

type AuditKind string

const (
	AuditTaskClaim   AuditKind = "task_claim"
	AuditRitualClaim AuditKind = "ritual_claim"
)

// AuditEntry records one claim decision for forensic review.
type AuditEntry struct {
	ID              string
	Kind            AuditKind
	Wallet          string
	TaskID          string
	Success         bool
	Stage           StageName
	Code            ErrorCode
	Reason          string
	RiskScore       *int
	ReputationScore *int
	Evidence        Evidence
	CreatedAt       time.Time
}
