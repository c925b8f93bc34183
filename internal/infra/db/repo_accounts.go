package db

import (
	"context"
	"errors"
	"time"

	"rewardguard/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	deviceColumn       = "device_signature"
	legacyDeviceColumn = "device_hash"
)

// AccountRepository serves account profiles, handle links, sessions and the
// aggregate signal queries of the Sybil detectors.
type AccountRepository struct {
	db *gorm.DB
	// deviceColumn is device_signature, or device_hash on schemas that
	// predate the rename. It is resolved once at construction.
	deviceColumn string
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db, deviceColumn: detectDeviceColumn(db)}
}

func detectDeviceColumn(db *gorm.DB) string {
	if db == nil {
		return deviceColumn
	}
	migrator := db.Migrator()
	if !migrator.HasColumn(&AccountModel{}, deviceColumn) && migrator.HasColumn(&AccountModel{}, legacyDeviceColumn) {
		return legacyDeviceColumn
	}
	return deviceColumn
}

func (r *AccountRepository) accountColumns() string {
	return "wallet, created_at, last_ip, total_points, ritual_streak, last_ritual_at, " + r.deviceColumn + " AS device_signature"
}

func (r *AccountRepository) GetAccount(ctx context.Context, address string) (*domain.Account, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model AccountModel
	if err := r.db.WithContext(ctx).
		Table(AccountModel{}.TableName()).
		Select(r.accountColumns()).
		Where("wallet = ?", wallet(address)).
		Take(&model).Error; err != nil {
		return nil, notFound(err)
	}
	handles, err := r.handlesFor(ctx, []string{model.Wallet})
	if err != nil {
		return nil, err
	}
	account := accountFromModel(model, handles[model.Wallet])
	return &account, nil
}

// CreateAccount inserts an account with its handles. It is used by seeding
// and by tests; production accounts are created by the signup flow.
func (r *AccountRepository) CreateAccount(ctx context.Context, account domain.Account) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		values := map[string]any{
			"wallet":         wallet(account.Wallet),
			"created_at":     account.CreatedAt.UTC(),
			"last_ip":        account.LastIP,
			"total_points":   account.TotalPoints,
			"ritual_streak":  account.RitualStreak,
			"last_ritual_at": utcPtr(account.LastRitualAt),
			r.deviceColumn:   account.DeviceSignature,
		}
		if err := tx.Table(AccountModel{}.TableName()).Create(values).Error; err != nil {
			return err
		}
		for platform, handle := range account.Handles {
			handle = domain.NormalizeHandle(handle)
			if handle == "" {
				continue
			}
			if err := tx.Create(&HandleModel{
				Wallet:    wallet(account.Wallet),
				Platform:  string(platform),
				Handle:    handle,
				CreatedAt: account.CreatedAt.UTC(),
			}).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return domain.ErrHandleTaken
				}
				return err
			}
		}
		return nil
	})
}

func (r *AccountRepository) LinkHandle(ctx context.Context, address string, platform domain.Platform, handle string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	address = wallet(address)
	var count int64
	if err := r.db.WithContext(ctx).Model(&AccountModel{}).Where("wallet = ?", address).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	model := HandleModel{
		Wallet:    address,
		Platform:  string(platform),
		Handle:    domain.NormalizeHandle(handle),
		CreatedAt: time.Now().UTC(),
	}
	// Relinking a platform replaces the previous handle; the remaining
	// unique index rejects handles owned by another wallet.
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{"handle", "created_at"}),
	}).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrHandleTaken
	}
	return err
}

// RecordSession stores the observed request and refreshes the account's
// last network origin and device signature.
func (r *AccountRepository) RecordSession(ctx context.Context, session domain.Session) error {
	if r.db == nil {
		return errDBUnavailable
	}
	address := wallet(session.Wallet)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&SessionModel{
			Wallet:          address,
			IP:              session.IP,
			IPBlock:         domain.NetworkBlock(session.IP),
			DeviceSignature: session.DeviceSignature,
			SeenAt:          session.SeenAt.UTC(),
		}).Error; err != nil {
			return err
		}
		updates := map[string]any{}
		if session.IP != "" {
			updates["last_ip"] = session.IP
		}
		if session.DeviceSignature != "" {
			updates[r.deviceColumn] = session.DeviceSignature
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Table(AccountModel{}.TableName()).Where("wallet = ?", address).Updates(updates).Error
	})
}

func (r *AccountRepository) RecentAccounts(ctx context.Context, limit int) ([]domain.Account, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AccountModel
	query := r.db.WithContext(ctx).
		Table(AccountModel{}.TableName()).
		Select(r.accountColumns()).
		Order("created_at DESC, wallet ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	wallets := make([]string, 0, len(models))
	for _, m := range models {
		wallets = append(wallets, m.Wallet)
	}
	handles, err := r.handlesFor(ctx, wallets)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Account, 0, len(models))
	for _, m := range models {
		out = append(out, accountFromModel(m, handles[m.Wallet]))
	}
	return out, nil
}

func (r *AccountRepository) CountOtherAccountsWithHandle(ctx context.Context, platform domain.Platform, handle, excludeWallet string) (int, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&HandleModel{}).
		Where("platform = ? AND handle = ? AND wallet <> ?", string(platform), domain.NormalizeHandle(handle), wallet(excludeWallet)).
		Count(&n).Error
	return int(n), err
}

// ListActionTimes returns the newest limit session times, oldest first.
func (r *AccountRepository) ListActionTimes(ctx context.Context, address string, since time.Time, limit int) ([]time.Time, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var times []time.Time
	query := r.db.WithContext(ctx).Model(&SessionModel{}).
		Where("wallet = ? AND seen_at >= ?", wallet(address), since.UTC()).
		Order("seen_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("seen_at", &times).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(times)-1; i < j; i, j = i+1, j-1 {
		times[i], times[j] = times[j], times[i]
	}
	return times, nil
}

func (r *AccountRepository) CountAccountsByIP(ctx context.Context, ip string, since time.Time, excludeWallet string) (int, error) {
	return r.countSessionWallets(ctx, "ip = ?", ip, since, excludeWallet)
}

func (r *AccountRepository) CountAccountsByIPPrefix(ctx context.Context, prefix string, since time.Time, excludeWallet string) (int, error) {
	return r.countSessionWallets(ctx, "ip_block = ?", prefix, since, excludeWallet)
}

func (r *AccountRepository) countSessionWallets(ctx context.Context, cond, value string, since time.Time, excludeWallet string) (int, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&SessionModel{}).
		Where(cond, value).
		Where("seen_at >= ? AND wallet <> ?", since.UTC(), wallet(excludeWallet)).
		Distinct("wallet").
		Count(&n).Error
	return int(n), err
}

// CountAccountsByDevice counts wallets whose stored profile or any session
// carries the device signature.
func (r *AccountRepository) CountAccountsByDevice(ctx context.Context, deviceSignature, excludeWallet string) (int, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	exclude := wallet(excludeWallet)
	var n int64
	err := r.db.WithContext(ctx).Raw(
		"SELECT COUNT(*) FROM (SELECT wallet FROM accounts WHERE "+r.deviceColumn+" = ? AND wallet <> ? "+
			"UNION SELECT wallet FROM account_sessions WHERE device_signature = ? AND wallet <> ?) AS w",
		deviceSignature, exclude, deviceSignature, exclude,
	).Scan(&n).Error
	return int(n), err
}

func (r *AccountRepository) CountAccountsCreatedBetween(ctx context.Context, from, to time.Time, excludeWallet string) (int, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&AccountModel{}).
		Where("created_at BETWEEN ? AND ? AND wallet <> ?", from.UTC(), to.UTC(), wallet(excludeWallet)).
		Count(&n).Error
	return int(n), err
}

func (r *AccountRepository) AddRewardEvent(ctx context.Context, event domain.RewardEvent) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Create(&RewardEventModel{
		Wallet:    wallet(event.Wallet),
		Amount:    event.Amount,
		CreatedAt: event.CreatedAt.UTC(),
	}).Error
}

func (r *AccountRepository) ListRewardEvents(ctx context.Context, address string, limit int) ([]domain.RewardEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []RewardEventModel
	query := r.db.WithContext(ctx).Where("wallet = ?", wallet(address)).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.RewardEvent, 0, len(models))
	for _, m := range models {
		out = append(out, domain.RewardEvent{Wallet: m.Wallet, Amount: m.Amount, CreatedAt: m.CreatedAt.UTC()})
	}
	return out, nil
}

func (r *AccountRepository) handlesFor(ctx context.Context, wallets []string) (map[string]map[domain.Platform]string, error) {
	out := make(map[string]map[domain.Platform]string, len(wallets))
	if len(wallets) == 0 {
		return out, nil
	}
	var models []HandleModel
	if err := r.db.WithContext(ctx).Where("wallet IN ?", wallets).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		if out[m.Wallet] == nil {
			out[m.Wallet] = make(map[domain.Platform]string)
		}
		out[m.Wallet][domain.Platform(m.Platform)] = m.Handle
	}
	return out, nil
}

func accountFromModel(model AccountModel, handles map[domain.Platform]string) domain.Account {
	return domain.Account{
		Wallet:          model.Wallet,
		CreatedAt:       model.CreatedAt.UTC(),
		Handles:         handles,
		LastIP:          model.LastIP,
		DeviceSignature: model.DeviceSignature,
		TotalPoints:     model.TotalPoints,
		RitualStreak:    model.RitualStreak,
		LastRitualAt:    utcPtr(model.LastRitualAt),
	}
}
