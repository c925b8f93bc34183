package db

import (
	"fmt"
	"log/slog"

	"rewardguard/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store owns the Postgres connection and the repositories built on it.
type Store struct {
	DB *gorm.DB

	Accounts  *AccountRepository
	Tasks     *TaskRepository
	Claims    *ClaimRepository
	Rituals   *RitualRepository
	Audit     *AuditLogRepository
	Snapshots *SnapshotRepository
}

// NewStore returns a nil store when no DSN is configured; callers then fall
// back to the in-memory store.
func NewStore(cfg config.Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PostgresDSN == "" {
		logger.Info("POSTGRES_DSN not set; record store runs in memory")
		return nil, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.AutoMigrate {
		if err := Migrate(gdb); err != nil {
			return nil, err
		}
	}
	return NewStoreFromDB(gdb, logger), nil
}

func NewStoreFromDB(gdb *gorm.DB, logger *slog.Logger) *Store {
	accounts := NewAccountRepository(gdb)
	if accounts.deviceColumn == legacyDeviceColumn && logger != nil {
		logger.Warn("accounts table uses legacy device column", "column", legacyDeviceColumn)
	}
	return &Store{
		DB:        gdb,
		Accounts:  accounts,
		Tasks:     NewTaskRepository(gdb),
		Claims:    NewClaimRepository(gdb),
		Rituals:   NewRitualRepository(gdb),
		Audit:     NewAuditLogRepository(gdb),
		Snapshots: NewSnapshotRepository(gdb),
	}
}

// Migrate creates or updates every table the repositories use.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&AccountModel{},
		&HandleModel{},
		&SessionModel{},
		&TaskModel{},
		&ClaimModel{},
		&RitualModel{},
		&AuditEntryModel{},
		&ReputationSnapshotModel{},
		&RewardEventModel{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
