package db

import (
	"context"
	"errors"
	"time"

	"rewardguard/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model TaskModel
	if err := r.db.WithContext(ctx).Where("id = ?", taskID).Take(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return &domain.Task{
		ID:            model.ID,
		Category:      domain.TaskCategory(model.Category),
		Platform:      domain.Platform(model.Platform),
		TargetAccount: model.TargetAccount,
		TargetPostURL: model.TargetPostURL,
		ChannelID:     model.ChannelID,
		Reward:        model.Reward,
		Active:        model.Active,
	}, nil
}

func (r *TaskRepository) PutTask(ctx context.Context, task domain.Task) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Save(&TaskModel{
		ID:            task.ID,
		Category:      string(task.Category),
		Platform:      string(task.Platform),
		TargetAccount: task.TargetAccount,
		TargetPostURL: task.TargetPostURL,
		ChannelID:     task.ChannelID,
		Reward:        task.Reward,
		Active:        task.Active,
	}).Error
}

type ClaimRepository struct {
	db *gorm.DB
}

func NewClaimRepository(db *gorm.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// Reserve relies on the (wallet, task_id) and evidence_id unique indexes so
// that concurrent claims for the same pair cannot both succeed.
func (r *ClaimRepository) Reserve(ctx context.Context, record domain.ClaimRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	err := r.db.WithContext(ctx).Create(&ClaimModel{
		ID:         record.ID,
		Wallet:     wallet(record.Wallet),
		TaskID:     record.TaskID,
		EvidenceID: stringPtrIfNotEmpty(record.EvidenceID),
		CreatedAt:  record.CreatedAt.UTC(),
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicateClaim
	}
	return err
}

type RitualRepository struct {
	db *gorm.DB
}

func NewRitualRepository(db *gorm.DB) *RitualRepository {
	return &RitualRepository{db: db}
}

func (r *RitualRepository) EvidenceUsed(ctx context.Context, evidenceID string) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&RitualModel{}).Where("evidence_id = ?", evidenceID).Count(&n).Error
	return n > 0, err
}

func (r *RitualRepository) CountByHandleSince(ctx context.Context, platform domain.Platform, handle string, since time.Time) (int, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&RitualModel{}).
		Where("platform = ? AND handle = ? AND created_at >= ?", string(platform), domain.NormalizeHandle(handle), since.UTC()).
		Count(&n).Error
	return int(n), err
}

func (r *RitualRepository) LastCompletion(ctx context.Context, address string) (*domain.RitualCompletion, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model RitualModel
	err := r.db.WithContext(ctx).Where("wallet = ?", wallet(address)).Order("created_at DESC").Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	completion := ritualFromModel(model)
	return &completion, nil
}

// Record inserts the completion and advances the account streak in one
// transaction. Advisory locks on the wallet and on the handle serialise
// concurrent completions so the daily rule and the handle cap are checked
// against committed rows. Locks are always taken wallet first.
func (r *RitualRepository) Record(ctx context.Context, completion domain.RitualCompletion, handleCap domain.HandleCap) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if completion.ID == "" {
		completion.ID = uuid.NewString()
	}
	address := wallet(completion.Wallet)
	handle := domain.NormalizeHandle(completion.Handle)
	createdAt := completion.CreatedAt.UTC()
	day := completion.RitualDay()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range []string{"ritual-wallet:" + address, "ritual-handle:" + string(completion.Platform) + ":" + handle} {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
				return err
			}
		}

		var n int64
		if err := tx.Model(&RitualModel{}).Where("evidence_id = ?", completion.EvidenceID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicateClaim
		}
		if err := tx.Model(&RitualModel{}).Where("wallet = ? AND ritual_day = ?", address, day).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrRitualDoneToday
		}
		if handleCap.Max > 0 {
			if err := tx.Model(&RitualModel{}).
				Where("platform = ? AND handle = ? AND created_at >= ?", string(completion.Platform), handle, handleCap.Since.UTC()).
				Count(&n).Error; err != nil {
				return err
			}
			if int(n) >= handleCap.Max {
				return domain.ErrHandleCapReached
			}
		}

		if err := tx.Create(&RitualModel{
			ID:          completion.ID,
			Wallet:      address,
			Platform:    string(completion.Platform),
			Handle:      handle,
			RitualDay:   day,
			EvidenceID:  completion.EvidenceID,
			EvidenceURL: completion.EvidenceURL,
			Streak:      completion.Streak,
			CreatedAt:   createdAt,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&AccountModel{}).
			Where("wallet = ?", address).
			Updates(map[string]any{"ritual_streak": completion.Streak, "last_ritual_at": createdAt}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicateClaim
	}
	return err
}

func ritualFromModel(model RitualModel) domain.RitualCompletion {
	return domain.RitualCompletion{
		ID:          model.ID,
		Wallet:      model.Wallet,
		Platform:    domain.Platform(model.Platform),
		Handle:      model.Handle,
		EvidenceID:  model.EvidenceID,
		EvidenceURL: model.EvidenceURL,
		Streak:      model.Streak,
		CreatedAt:   model.CreatedAt.UTC(),
	}
}
