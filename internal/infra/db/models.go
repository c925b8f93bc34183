package db

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountModel struct {
	Wallet          string    `gorm:"primaryKey"`
	CreatedAt       time.Time `gorm:"index;not null"`
	LastIP          *string
	DeviceSignature *string   `gorm:"index"`
	TotalPoints     int64     `gorm:"not null;default:0"`
	RitualStreak    int       `gorm:"not null;default:0"`
	LastRitualAt    *time.Time
}

func (AccountModel) TableName() string { return "accounts" }

// HandleModel links one platform handle to one wallet. A handle belongs to
// at most one wallet per platform.
type HandleModel struct {
	ID        int64     `gorm:"primaryKey"`
	Wallet    string    `gorm:"uniqueIndex:idx_handles_wallet_platform;not null"`
	Platform  string    `gorm:"uniqueIndex:idx_handles_wallet_platform;uniqueIndex:idx_handles_platform_handle;not null"`
	Handle    string    `gorm:"uniqueIndex:idx_handles_platform_handle;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (HandleModel) TableName() string { return "account_handles" }

type SessionModel struct {
	ID              int64     `gorm:"primaryKey"`
	Wallet          string    `gorm:"index;not null"`
	IP              string    `gorm:"index"`
	IPBlock         string    `gorm:"index"`
	DeviceSignature string    `gorm:"index"`
	SeenAt          time.Time `gorm:"index;not null"`
}

func (SessionModel) TableName() string { return "account_sessions" }

type TaskModel struct {
	ID            string          `gorm:"primaryKey"`
	Category      string          `gorm:"not null"`
	Platform      string
	TargetAccount string
	TargetPostURL string
	ChannelID     string
	Reward        decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0"`
	Active        bool            `gorm:"not null;default:true"`
}

func (TaskModel) TableName() string { return "tasks" }

// ClaimModel is the uniqueness reservation of a verified claim. EvidenceID
// is NULL for tasks without evidence so the unique index ignores it.
type ClaimModel struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	Wallet     string    `gorm:"uniqueIndex:idx_claims_wallet_task;not null"`
	TaskID     string    `gorm:"uniqueIndex:idx_claims_wallet_task;not null"`
	EvidenceID *string   `gorm:"uniqueIndex"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (ClaimModel) TableName() string { return "task_claims" }

type RitualModel struct {
	ID       string `gorm:"type:uuid;primaryKey"`
	Wallet   string `gorm:"uniqueIndex:idx_rituals_wallet_day;not null"`
	Platform string `gorm:"index:idx_rituals_handle;not null"`
	Handle   string `gorm:"index:idx_rituals_handle;not null"`
	// RitualDay is the UTC date of CreatedAt, YYYY-MM-DD.
	RitualDay   string    `gorm:"size:10;uniqueIndex:idx_rituals_wallet_day;not null"`
	EvidenceID  string    `gorm:"uniqueIndex;not null"`
	EvidenceURL string    `gorm:"not null"`
	Streak      int       `gorm:"not null"`
	CreatedAt   time.Time `gorm:"index;not null"`
}

func (RitualModel) TableName() string { return "ritual_completions" }

type AuditEntryModel struct {
	ID              string    `gorm:"type:uuid;primaryKey"`
	Kind            string    `gorm:"index;not null"`
	Wallet          string    `gorm:"index;not null"`
	TaskID          string
	Success         bool      `gorm:"not null"`
	Stage           string    `gorm:"not null"`
	Code            string
	Reason          string
	RiskScore       *int
	ReputationScore *int
	EvidenceJSON    []byte    `gorm:"type:jsonb"`
	CreatedAt       time.Time `gorm:"index;not null"`
}

func (AuditEntryModel) TableName() string { return "audit_log" }

type ReputationSnapshotModel struct {
	Wallet     string    `gorm:"primaryKey"`
	Score      int       `gorm:"not null"`
	SybilScore int       `gorm:"not null"`
	ComputedAt time.Time `gorm:"not null"`
}

func (ReputationSnapshotModel) TableName() string { return "reputation_snapshots" }

type RewardEventModel struct {
	ID        int64           `gorm:"primaryKey"`
	Wallet    string          `gorm:"index;not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	CreatedAt time.Time       `gorm:"index;not null"`
}

func (RewardEventModel) TableName() string { return "reward_events" }
