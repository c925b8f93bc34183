package config

import "time"

// Thresholds holds every tunable weight, cap, window and sample size used by
// the risk pipeline.
type Thresholds struct {
	// Sybil aggregation.
	SybilBlockThreshold int
	SybilMaxScore       int

	// Wallet pattern detector.
	WalletRecentSample     int
	WalletPrefixLength     int
	WalletPrefixMinMatches int
	WalletPrefixWeight     int
	WalletRangeDistanceExp uint
	WalletRangeMinMatches  int
	WalletRangeWeight      int
	WalletNewAccountAge    time.Duration
	WalletNewAccountWeight int

	// Social handle reuse detector.
	SocialReuseWeight int

	// Behavioural regularity detector.
	BehaviorSessionSample    int
	BehaviorWindow           time.Duration
	BehaviorMaxActions       int
	BehaviorVolumeWeight     int
	BehaviorMinGaps          int
	BehaviorShortGap         time.Duration
	BehaviorMaxGapStdDev     time.Duration
	BehaviorRegularityWeight int

	// Network origin detector.
	NetworkWindow          time.Duration
	NetworkIPMaxAccounts   int
	NetworkIPWeight        int
	NetworkBlockMaxAccount int
	NetworkBlockWeight     int

	// Device signature detector.
	DeviceMinSharedAccounts int
	DeviceWeight            int

	// Temporal clustering detector.
	TemporalWindow         time.Duration
	TemporalMaxAccounts    int
	TemporalClusterWeight  int
	TemporalYoungAge       time.Duration
	TemporalHighActivity   int64
	TemporalActivityWeight int

	// Transaction pattern detector.
	TxSample           int
	TxMinEvents        int
	TxMinDistinctRatio float64
	TxUniformityWeight int
	TxMaxStreakDays    int
	TxStreakWeight     int

	// Reputation.
	ReputationBase           int
	ReputationMin            int
	ReputationMax            int
	ReputationFirstIdentity  int
	ReputationExtraIdentity  int
	ReputationMaxAgeBonus    int
	ReputationMaxStreakBonus int
	ReputationSybilPenalty   float64
	ReputationPenaltyMinAge  time.Duration
	ReputationFloor          int

	// Ritual.
	RitualHandleWeeklyCap int
	RitualHandleWindow    time.Duration

	// Wallet challenge.
	ChallengeMaxAge     time.Duration
	ChallengeFutureSkew time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		SybilBlockThreshold: 70,
		SybilMaxScore:       100,

		WalletRecentSample:     100,
		WalletPrefixLength:     6,
		WalletPrefixMinMatches: 3,
		WalletPrefixWeight:     20,
		WalletRangeDistanceExp: 140,
		WalletRangeMinMatches:  3,
		WalletRangeWeight:      15,
		WalletNewAccountAge:    7 * 24 * time.Hour,
		WalletNewAccountWeight: 15,

		SocialReuseWeight: 40,

		BehaviorSessionSample:    100,
		BehaviorWindow:           24 * time.Hour,
		BehaviorMaxActions:       50,
		BehaviorVolumeWeight:     15,
		BehaviorMinGaps:          5,
		BehaviorShortGap:         5 * time.Minute,
		BehaviorMaxGapStdDev:     2 * time.Second,
		BehaviorRegularityWeight: 20,

		NetworkWindow:          7 * 24 * time.Hour,
		NetworkIPMaxAccounts:   3,
		NetworkIPWeight:        20,
		NetworkBlockMaxAccount: 10,
		NetworkBlockWeight:     10,

		DeviceMinSharedAccounts: 3,
		DeviceWeight:            25,

		TemporalWindow:         time.Hour,
		TemporalMaxAccounts:    10,
		TemporalClusterWeight:  15,
		TemporalYoungAge:       24 * time.Hour,
		TemporalHighActivity:   1000,
		TemporalActivityWeight: 15,

		TxSample:           50,
		TxMinEvents:        10,
		TxMinDistinctRatio: 0.2,
		TxUniformityWeight: 10,
		TxMaxStreakDays:    14,
		TxStreakWeight:     10,

		ReputationBase:           50,
		ReputationMin:            30,
		ReputationMax:            100,
		ReputationFirstIdentity:  15,
		ReputationExtraIdentity:  10,
		ReputationMaxAgeBonus:    20,
		ReputationMaxStreakBonus: 15,
		ReputationSybilPenalty:   0.3,
		ReputationPenaltyMinAge:  24 * time.Hour,
		ReputationFloor:          25,

		RitualHandleWeeklyCap: 7,
		RitualHandleWindow:    7 * 24 * time.Hour,

		ChallengeMaxAge:     5 * time.Minute,
		ChallengeFutureSkew: time.Minute,
	}
}

func thresholdsFromEnv(t Thresholds) Thresholds {
	t.SybilBlockThreshold = envIntDefault("SYBIL_BLOCK_THRESHOLD", t.SybilBlockThreshold)
	t.ReputationFloor = envIntDefault("REPUTATION_FLOOR", t.ReputationFloor)
	t.RitualHandleWeeklyCap = envIntDefault("RITUAL_HANDLE_WEEKLY_CAP", t.RitualHandleWeeklyCap)
	t.WalletRecentSample = envIntDefault("WALLET_RECENT_SAMPLE", t.WalletRecentSample)
	t.BehaviorSessionSample = envIntDefault("BEHAVIOR_SESSION_SAMPLE", t.BehaviorSessionSample)
	if secs := envIntDefault("CHALLENGE_MAX_AGE_SECONDS", 0); secs > 0 {
		t.ChallengeMaxAge = time.Duration(secs) * time.Second
	}
	return t
}
