package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"rewardguard/internal/domain"
)

type AuditEmitter struct {
	Repo  AuditLogRepository
	Clock Clock
}

func NewAuditEmitter(repo AuditLogRepository, clock Clock) *AuditEmitter {
	return &AuditEmitter{
		Repo:  repo,
		Clock: clock,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if e == nil || e.Repo == nil {
		return domain.AuditEntry{}, errors.New("audit repository required")
	}
	if entry.Kind == "" || entry.Wallet == "" || entry.Stage == "" {
		return domain.AuditEntry{}, errors.New("audit entry missing required fields")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Evidence == nil {
		entry.Evidence = domain.Evidence{}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = e.now().UTC()
	} else {
		entry.CreatedAt = entry.CreatedAt.UTC()
	}
	if err := e.Repo.Append(ctx, entry); err != nil {
		return domain.AuditEntry{}, err
	}
	return entry, nil
}

// EmitDecision records the outcome of one claim attempt.
func (e *AuditEmitter) EmitDecision(ctx context.Context, kind domain.AuditKind, wallet, taskID string, result domain.VerificationResult) error {
	entry := domain.AuditEntry{
		Kind:            kind,
		Wallet:          wallet,
		TaskID:          taskID,
		Success:         result.Success,
		Stage:           result.Stage,
		RiskScore:       result.RiskScore,
		ReputationScore: result.ReputationScore,
		Evidence:        result.Evidence,
	}
	if result.Error != nil {
		entry.Code = result.Error.Code
		entry.Reason = result.Error.Message
	}
	_, err := e.Emit(ctx, entry)
	return err
}

func (e *AuditEmitter) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}
