package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rewardguard/internal/config"
	"rewardguard/internal/domain"
)

const month = 30 * 24 * time.Hour

func detectorScore(t *testing.T, res domain.SybilCheckResult, name domain.DetectorName) domain.DetectorResult {
	t.Helper()
	for _, d := range res.Detectors {
		if d.Detector == name {
			return d
		}
	}
	t.Fatalf("detector %s missing from result", name)
	return domain.DetectorResult{}
}

func hasReason(reasons []string, substr string) bool {
	for _, r := range reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

func TestAggregateSybilClampsAndTiers(t *testing.T) {
	cases := []struct {
		name    string
		scores  []int
		want    int
		tier    domain.RiskTier
		allowed bool
	}{
		{"empty", nil, 0, domain.RiskLow, true},
		{"single strong signal", []int{40}, 40, domain.RiskMedium, true},
		{"just below block", []int{40, 25, 4}, 69, domain.RiskHigh, true},
		{"at block", []int{40, 15, 15}, 70, domain.RiskHigh, false},
		{"many high signals", []int{40, 40, 40, 40, 40, 40, 40}, 100, domain.RiskCritical, false},
		{"negative input", []int{-50, 10}, 0, domain.RiskLow, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			results := make([]domain.DetectorResult, 0, len(tc.scores))
			for _, s := range tc.scores {
				results = append(results, domain.DetectorResult{Score: s, Reasons: []string{"r"}})
			}
			got := AggregateSybil("0xabc", results, 70, 100)
			if got.RiskScore != tc.want || got.Tier != tc.tier || got.Allowed != tc.allowed {
				t.Fatalf("got score=%d tier=%s allowed=%v", got.RiskScore, got.Tier, got.Allowed)
			}
			if got.RiskScore < 0 || got.RiskScore > 100 {
				t.Fatalf("score out of range: %d", got.RiskScore)
			}
			if len(got.Reasons) != len(tc.scores) {
				t.Fatalf("expected %d reasons, got %d", len(tc.scores), len(got.Reasons))
			}
		})
	}
}

func TestCheckUserPenalisesNewWallet(t *testing.T) {
	h := newHarness()
	w := walletFor("fresh")

	res, err := h.sybil.CheckUser(context.Background(), domain.UserFingerprint{Wallet: w})
	if err != nil {
		t.Fatalf("check user: %v", err)
	}
	if res.RiskScore < 15 || !res.Allowed {
		t.Fatalf("expected new-wallet penalty within allowed range, got %d allowed=%v", res.RiskScore, res.Allowed)
	}
	if d := detectorScore(t, res, domain.DetectorWallet); d.Score != 15 {
		t.Fatalf("wallet detector: got %d", d.Score)
	}
	if len(res.Detectors) != 7 {
		t.Fatalf("expected seven detector results, got %d", len(res.Detectors))
	}
}

func TestCheckUserRejectsMalformedWallet(t *testing.T) {
	h := newHarness()
	if _, err := h.sybil.CheckUser(context.Background(), domain.UserFingerprint{Wallet: "not-a-wallet"}); err == nil {
		t.Fatal("expected error for malformed wallet")
	}
}

func TestDeviceClusteringAfterFiveWallets(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		w := walletFor(string(rune('a' + i)))
		h.addAccount(w, "", month)
		if err := h.store.RecordSession(ctx, domain.Session{Wallet: w, DeviceSignature: "dev-1", SeenAt: testNow.Add(-time.Duration(i) * 10 * time.Minute)}); err != nil {
			t.Fatalf("record session: %v", err)
		}
	}
	sixth := walletFor("sixth")
	h.addAccount(sixth, "", month)

	res, err := h.sybil.CheckUser(ctx, domain.UserFingerprint{Wallet: sixth, DeviceSignature: "dev-1"})
	if err != nil {
		t.Fatalf("check user: %v", err)
	}
	d := detectorScore(t, res, domain.DetectorDevice)
	if d.Score != 25 {
		t.Fatalf("device detector: got %d", d.Score)
	}
	if !hasReason(res.Reasons, "device signature is shared with 5 other accounts") {
		t.Fatalf("missing device reason: %v", res.Reasons)
	}
}

func TestSocialHandleReuse(t *testing.T) {
	h := newHarness()
	owner := walletFor("owner")
	copycat := walletFor("copycat")
	h.addAccount(owner, "alice", month)
	h.addAccount(copycat, "Alice", month)

	res, err := h.sybil.CheckUser(context.Background(), domain.UserFingerprint{Wallet: copycat})
	if err != nil {
		t.Fatalf("check user: %v", err)
	}
	if d := detectorScore(t, res, domain.DetectorSocial); d.Score != 40 {
		t.Fatalf("social detector: got %d (%v)", d.Score, d.Reasons)
	}
	if !res.Allowed {
		t.Fatal("a single strong signal must not block on its own")
	}
}

func TestWalletPrefixClustering(t *testing.T) {
	h := newHarness()
	for i := 1; i <= 3; i++ {
		h.addAccount(testWallet("abcdef", i), "", month)
	}
	target := testWallet("abcdef", 99)
	h.addAccount(target, "", month)

	res, err := h.sybil.CheckUser(context.Background(), domain.UserFingerprint{Wallet: target})
	if err != nil {
		t.Fatalf("check user: %v", err)
	}
	d := detectorScore(t, res, domain.DetectorWallet)
	if d.Score != 35 {
		t.Fatalf("wallet detector: got %d (%v)", d.Score, d.Reasons)
	}
	if !hasReason(d.Reasons, "6-character prefix with 3 recent accounts") {
		t.Fatalf("missing prefix reason: %v", d.Reasons)
	}
}

func TestBehaviorRegularity(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	w := walletFor("bot")
	h.addAccount(w, "", month)
	for i := 0; i < 10; i++ {
		if err := h.store.RecordSession(ctx, domain.Session{Wallet: w, SeenAt: testNow.Add(-time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("record session: %v", err)
		}
	}

	res, err := h.sybil.CheckUser(ctx, domain.UserFingerprint{Wallet: w})
	if err != nil {
		t.Fatalf("check user: %v", err)
	}
	d := detectorScore(t, res, domain.DetectorBehavior)
	if d.Score != 20 || !hasReason(d.Reasons, "machine-regular") {
		t.Fatalf("behavior detector: got %d (%v)", d.Score, d.Reasons)
	}
}

func TestNetworkClustering(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		w := walletFor("net" + string(rune('a'+i)))
		h.addAccount(w, "", month)
		ip := "198.51.100.7"
		if i >= 4 {
			ip = "198.51.100.1" + string(rune('0'+i-4))
		}
		if err := h.store.RecordSession(ctx, domain.Session{Wallet: w, IP: ip, SeenAt: testNow.Add(-time.Hour)}); err != nil {
			t.Fatalf("record session: %v", err)
		}
	}
	target := walletFor("net-target")
	h.addAccount(target, "", month)

	res, err := h.sybil.CheckUser(ctx, domain.UserFingerprint{Wallet: target, IP: "198.51.100.7"})
	if err != nil {
		t.Fatalf("check user: %v", err)
	}
	if d := detectorScore(t, res, domain.DetectorNetwork); d.Score != 30 {
		t.Fatalf("network detector: got %d (%v)", d.Score, d.Reasons)
	}
}

func TestTemporalAndTransactionSignals(t *testing.T) {
	h := newHarness()
	w := walletFor("farmer")
	h.store.PutAccount(domain.Account{
		Wallet:       w,
		CreatedAt:    testNow.Add(-2 * time.Hour),
		TotalPoints:  5000,
		RitualStreak: 20,
	})
	for i := 0; i < 11; i++ {
		h.addAccount(walletFor("cluster"+string(rune('a'+i))), "", 2*time.Hour)
	}
	for i := 0; i < 10; i++ {
		h.store.AddRewardEvent(domain.RewardEvent{Wallet: w, Amount: decimal.NewFromInt(10), CreatedAt: testNow.Add(-time.Duration(i) * time.Hour)})
	}

	res, err := h.sybil.CheckUser(context.Background(), domain.UserFingerprint{Wallet: w})
	if err != nil {
		t.Fatalf("check user: %v", err)
	}
	if d := detectorScore(t, res, domain.DetectorTemporal); d.Score != 30 {
		t.Fatalf("temporal detector: got %d (%v)", d.Score, d.Reasons)
	}
	if d := detectorScore(t, res, domain.DetectorTransaction); d.Score != 20 {
		t.Fatalf("transaction detector: got %d (%v)", d.Score, d.Reasons)
	}
}

func TestDetectorFailuresDegradeToZero(t *testing.T) {
	scorer := NewSybilScorer(failingSignals{}, nil, config.DefaultThresholds(), func() time.Time { return testNow }, discardLogger())
	account := domain.Account{Wallet: walletFor("x"), CreatedAt: testNow.Add(-month)}

	res := scorer.Evaluate(context.Background(), domain.UserFingerprint{
		Wallet:          account.Wallet,
		IP:              "192.0.2.1",
		DeviceSignature: "dev",
		Handles:         map[domain.Platform]string{domain.PlatformTwitter: "x"},
	}, account)
	if res.RiskScore != 0 || !res.Allowed {
		t.Fatalf("expected degraded detectors to score zero, got %d", res.RiskScore)
	}
	if len(res.Detectors) != 7 {
		t.Fatalf("expected seven detector results, got %d", len(res.Detectors))
	}
}
