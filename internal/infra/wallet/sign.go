package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParsePrivateKey decodes a hex secp256k1 private key, with or without the
// 0x prefix.
func ParsePrivateKey(keyHex string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	if trimmed == "" {
		return nil, errors.New("private key is required")
	}
	return crypto.HexToECDSA(trimmed)
}

// Address returns the lowercase wallet address of key.
func Address(key *ecdsa.PrivateKey) string {
	return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

// SignMessage produces an EIP-191 personal_sign signature with v in {27,28},
// the form wallets return.
func SignMessage(key *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}
