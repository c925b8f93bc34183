package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"rewardguard/internal/config"
	"rewardguard/internal/domain"
)

// SybilScorer combines seven independent detectors into one risk score.
// A detector that cannot read its signals contributes zero and is logged.
type SybilScorer struct {
	Signals    SignalStore
	Accounts   AccountRepository
	Thresholds config.Thresholds
	Clock      Clock
	Logger     *slog.Logger
}

func NewSybilScorer(signals SignalStore, accounts AccountRepository, thresholds config.Thresholds, clock Clock, logger *slog.Logger) *SybilScorer {
	return &SybilScorer{
		Signals:    signals,
		Accounts:   accounts,
		Thresholds: thresholds,
		Clock:      clock,
		Logger:     logger,
	}
}

type detectorInput struct {
	fingerprint domain.UserFingerprint
	account     domain.Account
	now         time.Time
}

type detector struct {
	name domain.DetectorName
	run  func(ctx context.Context, in detectorInput) (domain.DetectorResult, error)
}

// CheckUser scores the wallet in fp. Unknown wallets are scored as accounts
// created just now.
func (s *SybilScorer) CheckUser(ctx context.Context, fp domain.UserFingerprint) (domain.SybilCheckResult, error) {
	wallet, err := domain.CanonicalWallet(fp.Wallet)
	if err != nil {
		return domain.SybilCheckResult{}, err
	}
	fp.Wallet = wallet
	now := s.now()
	account := domain.Account{Wallet: wallet, CreatedAt: now}
	if s.Accounts != nil {
		stored, err := s.Accounts.GetAccount(ctx, wallet)
		switch {
		case err == nil && stored != nil:
			account = *stored
			if len(fp.Handles) == 0 {
				fp.Handles = stored.Handles
			}
		case errors.Is(err, domain.ErrNotFound):
		default:
			s.logger().WarnContext(ctx, "sybil account lookup failed", "wallet", wallet, "error", err)
		}
	}
	return s.Evaluate(ctx, fp, account), nil
}

// Evaluate runs every detector against an already loaded account.
func (s *SybilScorer) Evaluate(ctx context.Context, fp domain.UserFingerprint, account domain.Account) domain.SybilCheckResult {
	in := detectorInput{fingerprint: fp, account: account, now: s.now()}
	detectors := s.detectors()
	results := make([]domain.DetectorResult, len(detectors))

	var g errgroup.Group
	for i, d := range detectors {
		g.Go(func() error {
			res, err := d.run(ctx, in)
			if err != nil {
				s.logger().WarnContext(ctx, "sybil detector degraded",
					"detector", string(d.name),
					"wallet", fp.Wallet,
					"error", err,
				)
				res = domain.DetectorResult{}
			}
			res.Detector = d.name
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return AggregateSybil(fp.Wallet, results, s.Thresholds.SybilBlockThreshold, s.Thresholds.SybilMaxScore)
}

// AggregateSybil sums detector scores in detector order, clamps the total to
// [0, maxScore] and allows the wallet only below blockThreshold.
func AggregateSybil(wallet string, results []domain.DetectorResult, blockThreshold, maxScore int) domain.SybilCheckResult {
	total := 0
	reasons := []string{}
	for _, res := range results {
		total += res.Score
		reasons = append(reasons, res.Reasons...)
	}
	if total < 0 {
		total = 0
	}
	if total > maxScore {
		total = maxScore
	}
	return domain.SybilCheckResult{
		Wallet:    wallet,
		RiskScore: total,
		Tier:      domain.TierForScore(total),
		Reasons:   reasons,
		Allowed:   total < blockThreshold,
		Detectors: results,
	}
}

func (s *SybilScorer) detectors() []detector {
	return []detector{
		{name: domain.DetectorWallet, run: s.walletPattern},
		{name: domain.DetectorSocial, run: s.socialReuse},
		{name: domain.DetectorBehavior, run: s.behavior},
		{name: domain.DetectorNetwork, run: s.network},
		{name: domain.DetectorDevice, run: s.device},
		{name: domain.DetectorTemporal, run: s.temporal},
		{name: domain.DetectorTransaction, run: s.transaction},
	}
}

func (s *SybilScorer) walletPattern(ctx context.Context, in detectorInput) (domain.DetectorResult, error) {
	t := s.Thresholds
	var res domain.DetectorResult

	if in.account.Age(in.now) < t.WalletNewAccountAge {
		res.Add(t.WalletNewAccountWeight, fmt.Sprintf("account is %s old, under the %s minimum", humanDuration(in.account.Age(in.now)), humanDuration(t.WalletNewAccountAge)))
	}

	target := walletDigits(in.fingerprint.Wallet)
	targetValue, ok := new(big.Int).SetString(target, 16)
	if !ok || s.Signals == nil {
		return res, nil
	}
	recent, err := s.Signals.RecentAccounts(ctx, t.WalletRecentSample)
	if err != nil {
		return res, err
	}

	limit := new(big.Int).Lsh(big.NewInt(1), t.WalletRangeDistanceExp)
	prefixMatches, rangeMatches := 0, 0
	for _, other := range recent {
		digits := walletDigits(other.Wallet)
		if digits == target || len(digits) != len(target) {
			continue
		}
		if sharedPrefixLen(target, digits) >= t.WalletPrefixLength {
			prefixMatches++
		}
		otherValue, ok := new(big.Int).SetString(digits, 16)
		if !ok {
			continue
		}
		distance := new(big.Int).Sub(targetValue, otherValue)
		if distance.Abs(distance).Cmp(limit) < 0 {
			rangeMatches++
		}
	}
	if prefixMatches >= t.WalletPrefixMinMatches {
		res.Add(t.WalletPrefixWeight, fmt.Sprintf("wallet shares a %d-character prefix with %d recent accounts", t.WalletPrefixLength, prefixMatches))
	}
	if rangeMatches >= t.WalletRangeMinMatches {
		res.Add(t.WalletRangeWeight, fmt.Sprintf("wallet is numerically adjacent to %d recent accounts", rangeMatches))
	}
	return res, nil
}

func (s *SybilScorer) socialReuse(ctx context.Context, in detectorInput) (domain.DetectorResult, error) {
	var res domain.DetectorResult
	if s.Signals == nil {
		return res, nil
	}
	platforms := make([]string, 0, len(in.fingerprint.Handles))
	for platform := range in.fingerprint.Handles {
		platforms = append(platforms, string(platform))
	}
	sort.Strings(platforms)
	for _, name := range platforms {
		platform := domain.Platform(name)
		handle := domain.NormalizeHandle(in.fingerprint.Handles[platform])
		if handle == "" {
			continue
		}
		count, err := s.Signals.CountOtherAccountsWithHandle(ctx, platform, handle, in.fingerprint.Wallet)
		if err != nil {
			return res, err
		}
		if count > 0 {
			res.Add(s.Thresholds.SocialReuseWeight, fmt.Sprintf("%s handle @%s is linked to %d other account(s)", platform, handle, count))
		}
	}
	return res, nil
}

func (s *SybilScorer) behavior(ctx context.Context, in detectorInput) (domain.DetectorResult, error) {
	t := s.Thresholds
	var res domain.DetectorResult
	if s.Signals == nil {
		return res, nil
	}
	times, err := s.Signals.ListActionTimes(ctx, in.fingerprint.Wallet, in.now.Add(-t.BehaviorWindow), t.BehaviorSessionSample)
	if err != nil {
		return res, err
	}
	if len(times) > t.BehaviorMaxActions {
		res.Add(t.BehaviorVolumeWeight, fmt.Sprintf("%d actions in the last %s", len(times), humanDuration(t.BehaviorWindow)))
	}
	if len(times)-1 < t.BehaviorMinGaps {
		return res, nil
	}
	gaps := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]).Seconds())
	}
	mean, stddev := meanStdDev(gaps)
	if mean < t.BehaviorShortGap.Seconds() && stddev < t.BehaviorMaxGapStdDev.Seconds() {
		res.Add(t.BehaviorRegularityWeight, fmt.Sprintf("actions are machine-regular: mean gap %.1fs, deviation %.2fs", mean, stddev))
	}
	return res, nil
}

func (s *SybilScorer) network(ctx context.Context, in detectorInput) (domain.DetectorResult, error) {
	t := s.Thresholds
	var res domain.DetectorResult
	ip := strings.TrimSpace(in.fingerprint.IP)
	if ip == "" || s.Signals == nil {
		return res, nil
	}
	since := in.now.Add(-t.NetworkWindow)
	count, err := s.Signals.CountAccountsByIP(ctx, ip, since, in.fingerprint.Wallet)
	if err != nil {
		return res, err
	}
	if count > t.NetworkIPMaxAccounts {
		res.Add(t.NetworkIPWeight, fmt.Sprintf("%d other accounts used this network address in the last %s", count, humanDuration(t.NetworkWindow)))
	}
	block := domain.NetworkBlock(ip)
	if block == "" {
		return res, nil
	}
	count, err = s.Signals.CountAccountsByIPPrefix(ctx, block, since, in.fingerprint.Wallet)
	if err != nil {
		return res, err
	}
	if count > t.NetworkBlockMaxAccount {
		res.Add(t.NetworkBlockWeight, fmt.Sprintf("%d other accounts used network block %s in the last %s", count, block, humanDuration(t.NetworkWindow)))
	}
	return res, nil
}

func (s *SybilScorer) device(ctx context.Context, in detectorInput) (domain.DetectorResult, error) {
	var res domain.DetectorResult
	signature := strings.TrimSpace(in.fingerprint.DeviceSignature)
	if signature == "" || s.Signals == nil {
		return res, nil
	}
	count, err := s.Signals.CountAccountsByDevice(ctx, signature, in.fingerprint.Wallet)
	if err != nil {
		return res, err
	}
	if count >= s.Thresholds.DeviceMinSharedAccounts {
		res.Add(s.Thresholds.DeviceWeight, fmt.Sprintf("device signature is shared with %d other accounts", count))
	}
	return res, nil
}

func (s *SybilScorer) temporal(ctx context.Context, in detectorInput) (domain.DetectorResult, error) {
	t := s.Thresholds
	var res domain.DetectorResult
	created := in.account.CreatedAt
	if created.IsZero() {
		created = in.now
	}
	if in.account.Age(in.now) < t.TemporalYoungAge && in.account.TotalPoints >= t.TemporalHighActivity {
		res.Add(t.TemporalActivityWeight, fmt.Sprintf("account under %s old already holds %d points", humanDuration(t.TemporalYoungAge), in.account.TotalPoints))
	}
	if s.Signals == nil {
		return res, nil
	}
	count, err := s.Signals.CountAccountsCreatedBetween(ctx, created.Add(-t.TemporalWindow), created.Add(t.TemporalWindow), in.fingerprint.Wallet)
	if err != nil {
		return res, err
	}
	if count > t.TemporalMaxAccounts {
		res.Add(t.TemporalClusterWeight, fmt.Sprintf("%d accounts were created within %s of this one", count, humanDuration(t.TemporalWindow)))
	}
	return res, nil
}

func (s *SybilScorer) transaction(ctx context.Context, in detectorInput) (domain.DetectorResult, error) {
	t := s.Thresholds
	var res domain.DetectorResult
	if in.account.RitualStreak > t.TxMaxStreakDays {
		res.Add(t.TxStreakWeight, fmt.Sprintf("unbroken ritual streak of %d days", in.account.RitualStreak))
	}
	if s.Signals == nil {
		return res, nil
	}
	events, err := s.Signals.ListRewardEvents(ctx, in.fingerprint.Wallet, t.TxSample)
	if err != nil {
		return res, err
	}
	if len(events) < t.TxMinEvents {
		return res, nil
	}
	distinct := map[string]struct{}{}
	for _, event := range events {
		distinct[event.Amount.String()] = struct{}{}
	}
	if float64(len(distinct))/float64(len(events)) < t.TxMinDistinctRatio {
		res.Add(t.TxUniformityWeight, fmt.Sprintf("only %d distinct amounts across %d recent rewards", len(distinct), len(events)))
	}
	return res, nil
}

func (s *SybilScorer) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

func (s *SybilScorer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func walletDigits(wallet string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(wallet)), "0x")
}

func sharedPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	case d >= 24*time.Hour:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	default:
		return d.Truncate(time.Second).String()
	}
}
