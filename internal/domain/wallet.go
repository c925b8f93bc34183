package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CanonicalWallet validates a hex wallet address and returns its lowercase
// 0x-prefixed form, which is the primary identity key everywhere.
func CanonicalWallet(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}
