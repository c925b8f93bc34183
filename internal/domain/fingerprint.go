package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// UserFingerprint is the bundle of identifying signals evaluated for one
// account. It is built fresh for every check and never mutated.
type UserFingerprint struct {
	Wallet          string
	IP              string
	DeviceSignature string
	Handles         map[Platform]string
}

// DeviceSignature hashes the client-reported device traits into a stable
// signature. Empty input yields an empty signature.
func DeviceSignature(userAgent, screen, timezone string) string {
	userAgent = strings.TrimSpace(userAgent)
	screen = strings.TrimSpace(screen)
	timezone = strings.TrimSpace(timezone)
	if userAgent == "" && screen == "" && timezone == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(userAgent + "|" + screen + "|" + timezone))
	return hex.EncodeToString(sum[:])
}

// NewFingerprint combines the current request signals with the stored
// profile. Request values take precedence over stored ones.
func NewFingerprint(account Account, ip, deviceSignature string) UserFingerprint {
	fp := UserFingerprint{
		Wallet:          account.Wallet,
		IP:              strings.TrimSpace(ip),
		DeviceSignature: strings.TrimSpace(deviceSignature),
	}
	if fp.IP == "" && account.LastIP != nil {
		fp.IP = *account.LastIP
	}
	if fp.DeviceSignature == "" && account.DeviceSignature != nil {
		fp.DeviceSignature = *account.DeviceSignature
	}
	if len(account.Handles) > 0 {
		fp.Handles = make(map[Platform]string, len(account.Handles))
		for platform, handle := range account.Handles {
			if strings.TrimSpace(handle) == "" {
				continue
			}
			fp.Handles[platform] = NormalizeHandle(handle)
		}
	}
	return fp
}

// NetworkBlock returns the /24 (IPv4) or /48 (IPv6) block of an address, or
// an empty string when ip does not parse.
func NetworkBlock(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return (&net.IPNet{IP: v4.Mask(net.CIDRMask(24, 32)), Mask: net.CIDRMask(24, 32)}).String()
	}
	return (&net.IPNet{IP: parsed.Mask(net.CIDRMask(48, 128)), Mask: net.CIDRMask(48, 128)}).String()
}
