package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformDiscord   Platform = "discord"
	PlatformTelegram  Platform = "telegram"
	PlatformFarcaster Platform = "farcaster"
)

// IdentityPlatforms are the platforms counted towards the reputation
// identity bonus, in bonus order.
var IdentityPlatforms = []Platform{PlatformTwitter, PlatformDiscord, PlatformTelegram}

func ParsePlatform(value string) (Platform, bool) {
	switch Platform(strings.ToLower(strings.TrimSpace(value))) {
	case PlatformTwitter, "x":
		return PlatformTwitter, true
	case PlatformDiscord:
		return PlatformDiscord, true
	case PlatformTelegram:
		return PlatformTelegram, true
	case PlatformFarcaster:
		return PlatformFarcaster, true
	}
	return "", false
}

// Account is the stored profile of one wallet. Pointer fields are optional
// in the record store and stay nil when the row does not carry them.
type Account struct {
	Wallet          string
	CreatedAt       time.Time
	Handles         map[Platform]string
	LastIP          *string
	DeviceSignature *string
	TotalPoints     int64
	RitualStreak    int
	LastRitualAt    *time.Time
}

func (a Account) Handle(platform Platform) (string, bool) {
	if a.Handles == nil {
		return "", false
	}
	handle, ok := a.Handles[platform]
	if !ok || strings.TrimSpace(handle) == "" {
		return "", false
	}
	return handle, true
}

func (a Account) Age(now time.Time) time.Duration {
	if a.CreatedAt.IsZero() || now.Before(a.CreatedAt) {
		return 0
	}
	return now.Sub(a.CreatedAt)
}

// Session is one observed request from an account, used for network and
// device clustering.
type Session struct {
	Wallet          string
	IP              string
	DeviceSignature string
	SeenAt          time.Time
}

type RewardEvent struct {
	Wallet    string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

type ReputationSnapshot struct {
	Wallet     string
	Score      int
	SybilScore int
	ComputedAt time.Time
}

// NormalizeHandle strips a leading @ and lowercases a platform handle.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// SameHandle reports whether two handles name the same account.
func SameHandle(a, b string) bool {
	na, nb := NormalizeHandle(a), NormalizeHandle(b)
	return na != "" && na == nb
}
