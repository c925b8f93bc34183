package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TaskCategory string

const (
	TaskFollow        TaskCategory = "follow"
	TaskEngagement    TaskCategory = "engagement"
	TaskCommunityJoin TaskCategory = "community_join"
	TaskIdentityLink  TaskCategory = "identity_link"
)

type Task struct {
	ID       string
	Category TaskCategory
	Platform Platform
	// TargetAccount is the handle that must be followed.
	TargetAccount string
	// TargetPostURL is the post an engagement reply must answer.
	TargetPostURL string
	// ChannelID is the channel or community that must be joined.
	ChannelID string
	Reward    decimal.Decimal
	Active    bool
}

// SignedChallenge is a wallet signature over a challenge message, used when
// the transport did not already authenticate the wallet.
type SignedChallenge struct {
	Message   string
	Signature string
}

// TaskVerificationData is one reward-claim request.
type TaskVerificationData struct {
	Wallet          string
	TaskID          string
	CallerKey       string
	IP              string
	DeviceSignature string
	EvidenceURL     string
	Authenticated   bool
	Challenge       *SignedChallenge
	SubmittedAt     time.Time
}

// ClaimRecord is the uniqueness reservation of a verified claim: at most one
// record per (wallet, task) and per evidence id.
type ClaimRecord struct {
	ID         string
	Wallet     string
	TaskID     string
	EvidenceID string
	CreatedAt  time.Time
}

type RitualCompletion struct {
	ID          string
	Wallet      string
	Platform    Platform
	Handle      string
	EvidenceID  string
	EvidenceURL string
	Streak      int
	CreatedAt   time.Time
}

// RitualDay is the UTC calendar day a completion counts towards.
func (c RitualCompletion) RitualDay() string {
	return c.CreatedAt.UTC().Format("2006-01-02")
}

// HandleCap bounds how many rituals one handle may complete since a point
// in time. Max <= 0 disables the cap.
type HandleCap struct {
	Max   int
	Since time.Time
}
