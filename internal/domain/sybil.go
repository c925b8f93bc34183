package domain

type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

func TierForScore(score int) RiskTier {
	switch {
	case score < 40:
		return RiskLow
	case score < 60:
		return RiskMedium
	case score < 80:
		return RiskHigh
	default:
		return RiskCritical
	}
}

type DetectorName string

const (
	DetectorWallet      DetectorName = "wallet_pattern"
	DetectorSocial      DetectorName = "social_reuse"
	DetectorBehavior    DetectorName = "behavior"
	DetectorNetwork     DetectorName = "network"
	DetectorDevice      DetectorName = "device"
	DetectorTemporal    DetectorName = "temporal"
	DetectorTransaction DetectorName = "transaction"
)

// DetectorResult is the independent finding of one detector.
type DetectorResult struct {
	Detector DetectorName `json:"detector"`
	Score    int          `json:"score"`
	Reasons  []string     `json:"reasons,omitempty"`
}

type SybilCheckResult struct {
	Wallet    string           `json:"wallet"`
	RiskScore int              `json:"risk_score"`
	Tier      RiskTier         `json:"tier"`
	Reasons   []string         `json:"reasons"`
	Allowed   bool             `json:"allowed"`
	Detectors []DetectorResult `json:"detectors,omitempty"`
}

// Add records one triggered signal.
func (r *DetectorResult) Add(weight int, reason string) {
	r.Score += weight
	r.Reasons = append(r.Reasons, reason)
}
