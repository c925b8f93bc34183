package storemem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"rewardguard/internal/domain"
)

// Store is a mutex-guarded record store used by tests and by the daemon
// when no Postgres DSN is configured.
type Store struct {
	mu          sync.Mutex
	accounts    map[string]domain.Account
	sessions    []domain.Session
	tasks       map[string]domain.Task
	claims      map[string]domain.ClaimRecord
	claimByEvid map[string]string
	rituals     []domain.RitualCompletion
	ritualEvid  map[string]struct{}
	audit       []domain.AuditEntry
	rewards     map[string][]domain.RewardEvent
	snapshots   map[string]domain.ReputationSnapshot
}

func New() *Store {
	return &Store{
		accounts:    make(map[string]domain.Account),
		tasks:       make(map[string]domain.Task),
		claims:      make(map[string]domain.ClaimRecord),
		claimByEvid: make(map[string]string),
		ritualEvid:  make(map[string]struct{}),
		rewards:     make(map[string][]domain.RewardEvent),
		snapshots:   make(map[string]domain.ReputationSnapshot),
	}
}

// PutAccount inserts or replaces an account. Handles are stored normalised.
func (s *Store) PutAccount(account domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account.Wallet = strings.ToLower(account.Wallet)
	account.Handles = normaliseHandles(account.Handles)
	s.accounts[account.Wallet] = account
}

func (s *Store) PutTask(task domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

func (s *Store) AddRewardEvent(event domain.RewardEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet := strings.ToLower(event.Wallet)
	event.Wallet = wallet
	s.rewards[wallet] = append(s.rewards[wallet], event)
}

func (s *Store) Snapshot(wallet string) (domain.ReputationSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[strings.ToLower(wallet)]
	return snap, ok
}

func (s *Store) GetAccount(_ context.Context, wallet string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[strings.ToLower(wallet)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	account.Handles = copyHandles(account.Handles)
	return &account, nil
}

func (s *Store) LinkHandle(_ context.Context, wallet string, platform domain.Platform, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet = strings.ToLower(wallet)
	handle = domain.NormalizeHandle(handle)
	account, ok := s.accounts[wallet]
	if !ok {
		return domain.ErrNotFound
	}
	for other, acc := range s.accounts {
		if other != wallet && acc.Handles[platform] == handle {
			return domain.ErrHandleTaken
		}
	}
	if account.Handles == nil {
		account.Handles = make(map[domain.Platform]string)
	}
	account.Handles[platform] = handle
	s.accounts[wallet] = account
	return nil
}

func (s *Store) RecentAccounts(_ context.Context, limit int) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Wallet < out[j].Wallet
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountOtherAccountsWithHandle counts the wallets reported by handle reuse.
// It looks at stored links, not at sessions.
func (s *Store) CountOtherAccountsWithHandle(_ context.Context, platform domain.Platform, handle, excludeWallet string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle = domain.NormalizeHandle(handle)
	exclude := strings.ToLower(excludeWallet)
	count := 0
	for wallet, acc := range s.accounts {
		if wallet != exclude && acc.Handles[platform] == handle {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListActionTimes(_ context.Context, wallet string, since time.Time, limit int) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet = strings.ToLower(wallet)
	var out []time.Time
	for _, sess := range s.sessions {
		if sess.Wallet == wallet && !sess.SeenAt.Before(since) {
			out = append(out, sess.SeenAt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) CountAccountsByIP(_ context.Context, ip string, since time.Time, excludeWallet string) (int, error) {
	return s.countSessionWallets(func(sess domain.Session) bool {
		return sess.IP == ip && !sess.SeenAt.Before(since)
	}, excludeWallet), nil
}

func (s *Store) CountAccountsByIPPrefix(_ context.Context, prefix string, since time.Time, excludeWallet string) (int, error) {
	return s.countSessionWallets(func(sess domain.Session) bool {
		return domain.NetworkBlock(sess.IP) == prefix && !sess.SeenAt.Before(since)
	}, excludeWallet), nil
}

func (s *Store) CountAccountsByDevice(_ context.Context, deviceSignature, excludeWallet string) (int, error) {
	s.mu.Lock()
	exclude := strings.ToLower(excludeWallet)
	wallets := map[string]struct{}{}
	for wallet, acc := range s.accounts {
		if wallet != exclude && acc.DeviceSignature != nil && *acc.DeviceSignature == deviceSignature {
			wallets[wallet] = struct{}{}
		}
	}
	for _, sess := range s.sessions {
		if sess.Wallet != exclude && sess.DeviceSignature == deviceSignature {
			wallets[sess.Wallet] = struct{}{}
		}
	}
	s.mu.Unlock()
	return len(wallets), nil
}

func (s *Store) CountAccountsCreatedBetween(_ context.Context, from, to time.Time, excludeWallet string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exclude := strings.ToLower(excludeWallet)
	count := 0
	for wallet, acc := range s.accounts {
		if wallet == exclude {
			continue
		}
		if !acc.CreatedAt.Before(from) && !acc.CreatedAt.After(to) {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListRewardEvents(_ context.Context, wallet string, limit int) ([]domain.RewardEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := append([]domain.RewardEvent(nil), s.rewards[strings.ToLower(wallet)]...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// RecordSession appends the session and refreshes the account's last seen
// network origin and device signature.
func (s *Store) RecordSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.Wallet = strings.ToLower(session.Wallet)
	s.sessions = append(s.sessions, session)
	if acc, ok := s.accounts[session.Wallet]; ok {
		if session.IP != "" {
			ip := session.IP
			acc.LastIP = &ip
		}
		if session.DeviceSignature != "" {
			device := session.DeviceSignature
			acc.DeviceSignature = &device
		}
		s.accounts[session.Wallet] = acc
	}
	return nil
}

func (s *Store) GetTask(_ context.Context, taskID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &task, nil
}

func (s *Store) Reserve(_ context.Context, record domain.ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := claimKey(record.Wallet, record.TaskID)
	if _, ok := s.claims[key]; ok {
		return domain.ErrDuplicateClaim
	}
	if record.EvidenceID != "" {
		if _, ok := s.claimByEvid[record.EvidenceID]; ok {
			return domain.ErrDuplicateClaim
		}
		s.claimByEvid[record.EvidenceID] = key
	}
	s.claims[key] = record
	return nil
}

func (s *Store) EvidenceUsed(_ context.Context, evidenceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ritualEvid[evidenceID]
	return ok, nil
}

func (s *Store) CountByHandleSince(_ context.Context, platform domain.Platform, handle string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle = domain.NormalizeHandle(handle)
	count := 0
	for _, r := range s.rituals {
		if r.Platform == platform && r.Handle == handle && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) LastCompletion(_ context.Context, wallet string) (*domain.RitualCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet = strings.ToLower(wallet)
	var last *domain.RitualCompletion
	for i := range s.rituals {
		r := s.rituals[i]
		if r.Wallet == wallet && (last == nil || r.CreatedAt.After(last.CreatedAt)) {
			last = &r
		}
	}
	return last, nil
}

// Record stores a ritual completion and advances the account streak. The
// evidence, daily and handle rules are checked under the same lock as the
// write.
func (s *Store) Record(_ context.Context, completion domain.RitualCompletion, handleCap domain.HandleCap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ritualEvid[completion.EvidenceID]; ok {
		return domain.ErrDuplicateClaim
	}
	completion.Wallet = strings.ToLower(completion.Wallet)
	completion.Handle = domain.NormalizeHandle(completion.Handle)
	day := completion.RitualDay()
	handleCount := 0
	for _, r := range s.rituals {
		if r.Wallet == completion.Wallet && r.RitualDay() == day {
			return domain.ErrRitualDoneToday
		}
		if r.Platform == completion.Platform && r.Handle == completion.Handle && !r.CreatedAt.Before(handleCap.Since) {
			handleCount++
		}
	}
	if handleCap.Max > 0 && handleCount >= handleCap.Max {
		return domain.ErrHandleCapReached
	}
	s.ritualEvid[completion.EvidenceID] = struct{}{}
	s.rituals = append(s.rituals, completion)
	if acc, ok := s.accounts[completion.Wallet]; ok {
		at := completion.CreatedAt
		acc.RitualStreak = completion.Streak
		acc.LastRitualAt = &at
		s.accounts[completion.Wallet] = acc
	}
	return nil
}

func (s *Store) Append(_ context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// ListByWallet returns audit entries newest first.
func (s *Store) ListByWallet(_ context.Context, wallet string, limit int) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet = strings.ToLower(wallet)
	var out []domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].Wallet == wallet {
			out = append(out, s.audit[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) UpsertReputationSnapshot(_ context.Context, snapshot domain.ReputationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[strings.ToLower(snapshot.Wallet)] = snapshot
	return nil
}

func (s *Store) countSessionWallets(match func(domain.Session) bool, excludeWallet string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	exclude := strings.ToLower(excludeWallet)
	wallets := map[string]struct{}{}
	for _, sess := range s.sessions {
		if sess.Wallet != exclude && match(sess) {
			wallets[sess.Wallet] = struct{}{}
		}
	}
	return len(wallets)
}

func claimKey(wallet, taskID string) string {
	return strings.ToLower(wallet) + "|" + taskID
}

func normaliseHandles(handles map[domain.Platform]string) map[domain.Platform]string {
	if len(handles) == 0 {
		return nil
	}
	out := make(map[domain.Platform]string, len(handles))
	for platform, handle := range handles {
		if h := domain.NormalizeHandle(handle); h != "" {
			out[platform] = h
		}
	}
	return out
}

func copyHandles(handles map[domain.Platform]string) map[domain.Platform]string {
	if handles == nil {
		return nil
	}
	out := make(map[domain.Platform]string, len(handles))
	for k, v := range handles {
		out[k] = v
	}
	return out
}
