package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"rewardguard/internal/config"
	"rewardguard/internal/domain"
	"rewardguard/internal/infra/ratelimit"
	"rewardguard/internal/infra/storemem"
	"rewardguard/internal/infra/wallet"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testNow}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testWallet builds a distinct address from a hex prefix and an index.
func testWallet(prefix string, n int) string {
	return "0x" + prefix + fmt.Sprintf("%0*x", 40-len(prefix), n)
}

// walletFor derives an unclustered address from a name.
func walletFor(name string) string {
	sum := sha256.Sum256([]byte(name))
	return "0x" + hex.EncodeToString(sum[:20])
}

type fakeChecker struct {
	mu        sync.Mutex
	post      domain.PostCheck
	postErr   error
	following bool
	followErr error
	member    bool
	memberErr error
	authors   map[string]string
	calls     int
}

// setAuthor makes CheckPublicPost report postID as a public post by handle.
func (f *fakeChecker) setAuthor(postID, handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authors == nil {
		f.authors = make(map[string]string)
	}
	f.authors[postID] = handle
}

func (f *fakeChecker) CheckPublicPost(_ context.Context, postID string) (domain.PostCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.postErr != nil {
		return domain.PostCheck{}, f.postErr
	}
	if author, ok := f.authors[postID]; ok {
		return domain.PostCheck{Exists: true, PostID: postID, AuthorHandle: author}, nil
	}
	post := f.post
	post.PostID = postID
	return post, nil
}

func (f *fakeChecker) CheckFollow(context.Context, domain.Platform, string, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.following, f.followErr
}

func (f *fakeChecker) CheckMembership(context.Context, domain.Platform, string, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.member, f.memberErr
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingSignals struct{}

var errSignals = errors.New("signal store down")

func (failingSignals) RecentAccounts(context.Context, int) ([]domain.Account, error) {
	return nil, errSignals
}

func (failingSignals) CountOtherAccountsWithHandle(context.Context, domain.Platform, string, string) (int, error) {
	return 0, errSignals
}

func (failingSignals) ListActionTimes(context.Context, string, time.Time, int) ([]time.Time, error) {
	return nil, errSignals
}

func (failingSignals) CountAccountsByIP(context.Context, string, time.Time, string) (int, error) {
	return 0, errSignals
}

func (failingSignals) CountAccountsByIPPrefix(context.Context, string, time.Time, string) (int, error) {
	return 0, errSignals
}

func (failingSignals) CountAccountsByDevice(context.Context, string, string) (int, error) {
	return 0, errSignals
}

func (failingSignals) CountAccountsCreatedBetween(context.Context, time.Time, time.Time, string) (int, error) {
	return 0, errSignals
}

func (failingSignals) ListRewardEvents(context.Context, string, int) ([]domain.RewardEvent, error) {
	return nil, errSignals
}

type stubPolicy struct {
	result domain.PolicyResult
	err    error
	inputs []domain.ClaimPolicyInput
}

func (p *stubPolicy) Evaluate(_ context.Context, input domain.ClaimPolicyInput) (domain.PolicyEvaluation, error) {
	p.inputs = append(p.inputs, input)
	if p.err != nil {
		return domain.PolicyEvaluation{}, p.err
	}
	return domain.PolicyEvaluation{BundleHash: "test", Result: p.result}, nil
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, domain.LimiterName, string) (domain.RateLimitDecision, error) {
	return domain.RateLimitDecision{}, errors.New("redis down")
}

type harness struct {
	store   *storemem.Store
	checker *fakeChecker
	clock   *testClock
	sybil   *SybilScorer
	engine  *TaskVerificationEngine
	rituals *RitualRules
}

func newHarness(limits ...domain.LimiterConfig) *harness {
	clock := newTestClock()
	store := storemem.New()
	checker := &fakeChecker{}
	thresholds := config.DefaultThresholds()
	logger := discardLogger()

	if len(limits) == 0 {
		limits = ratelimit.DefaultLimiters()
	}
	limiter := ratelimit.NewPolicy(ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{Now: clock.Now}), limits)
	sybil := NewSybilScorer(store, store, thresholds, clock.Now, logger)
	reputation := NewReputationScorer(store, sybil, store, thresholds, clock.Now, logger)
	audit := NewAuditEmitter(store, clock.Now)
	verifier := wallet.NewVerifier(clock.Now, thresholds.ChallengeFutureSkew)

	return &harness{
		store:   store,
		checker: checker,
		clock:   clock,
		sybil:   sybil,
		engine: &TaskVerificationEngine{
			Limiter:    limiter,
			Signatures: verifier,
			Accounts:   store,
			Tasks:      store,
			Sessions:   store,
			Sybil:      sybil,
			Reputation: reputation,
			Checker:    checker,
			Claims:     store,
			Audit:      audit,
			Thresholds: thresholds,
			Clock:      clock.Now,
			Logger:     logger,
		},
		rituals: &RitualRules{
			Rituals:    store,
			Accounts:   store,
			Sybil:      sybil,
			Limiter:    limiter,
			Signatures: verifier,
			Checker:    checker,
			Audit:      audit,
			Thresholds: thresholds,
			Clock:      clock.Now,
			Logger:     logger,
		},
	}
}

// addAccount stores an account created age ago with an optional twitter
// handle.
func (h *harness) addAccount(addr, twitter string, age time.Duration) {
	account := domain.Account{Wallet: addr, CreatedAt: h.clock.Now().Add(-age)}
	if twitter != "" {
		account.Handles = map[domain.Platform]string{domain.PlatformTwitter: twitter}
	}
	h.store.PutAccount(account)
}
