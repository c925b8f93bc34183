package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"rewardguard/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if entry.Kind == "" {
		return errors.New("audit kind is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	model, err := auditModelFromDomain(entry)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

// ListByWallet returns entries newest first.
func (r *AuditLogRepository) ListByWallet(ctx context.Context, address string, limit int) ([]domain.AuditEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AuditEntryModel
	query := r.db.WithContext(ctx).Where("wallet = ?", wallet(address)).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEntry, 0, len(models))
	for _, model := range models {
		entry, err := auditEntryFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func auditModelFromDomain(entry domain.AuditEntry) (AuditEntryModel, error) {
	var evidence []byte
	if len(entry.Evidence) > 0 {
		raw, err := json.Marshal(entry.Evidence)
		if err != nil {
			return AuditEntryModel{}, err
		}
		evidence = raw
	}
	return AuditEntryModel{
		ID:              entry.ID,
		Kind:            string(entry.Kind),
		Wallet:          wallet(entry.Wallet),
		TaskID:          entry.TaskID,
		Success:         entry.Success,
		Stage:           string(entry.Stage),
		Code:            string(entry.Code),
		Reason:          entry.Reason,
		RiskScore:       entry.RiskScore,
		ReputationScore: entry.ReputationScore,
		EvidenceJSON:    evidence,
		CreatedAt:       entry.CreatedAt.UTC().Truncate(time.Microsecond),
	}, nil
}

func auditEntryFromModel(model AuditEntryModel) (domain.AuditEntry, error) {
	var evidence domain.Evidence
	if len(model.EvidenceJSON) > 0 {
		if err := json.Unmarshal(model.EvidenceJSON, &evidence); err != nil {
			return domain.AuditEntry{}, err
		}
	}
	return domain.AuditEntry{
		ID:              model.ID,
		Kind:            domain.AuditKind(model.Kind),
		Wallet:          model.Wallet,
		TaskID:          model.TaskID,
		Success:         model.Success,
		Stage:           domain.StageName(model.Stage),
		Code:            domain.ErrorCode(model.Code),
		Reason:          model.Reason,
		RiskScore:       model.RiskScore,
		ReputationScore: model.ReputationScore,
		Evidence:        evidence,
		CreatedAt:       model.CreatedAt.UTC(),
	}, nil
}

type SnapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) UpsertReputationSnapshot(ctx context.Context, snapshot domain.ReputationSnapshot) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "sybil_score", "computed_at"}),
	}).Create(&ReputationSnapshotModel{
		Wallet:     wallet(snapshot.Wallet),
		Score:      snapshot.Score,
		SybilScore: snapshot.SybilScore,
		ComputedAt: snapshot.ComputedAt.UTC(),
	}).Error
}

func (r *SnapshotRepository) GetReputationSnapshot(ctx context.Context, address string) (*domain.ReputationSnapshot, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ReputationSnapshotModel
	if err := r.db.WithContext(ctx).Where("wallet = ?", wallet(address)).Take(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return &domain.ReputationSnapshot{
		Wallet:     model.Wallet,
		Score:      model.Score,
		SybilScore: model.SybilScore,
		ComputedAt: model.ComputedAt.UTC(),
	}, nil
}
