package wallet

import (
	"encoding/hex"
	"errors"
	"strings"

	"rewardguard/internal/domain"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const signatureLength = 65

// Verify recovers the signer of an EIP-191 personal message and compares it
// with the claimed address.
func (v *Verifier) Verify(address, message, signature string) domain.SignatureDecision {
	if !common.IsHexAddress(strings.TrimSpace(address)) {
		return invalid(domain.SignatureInvalidFormat, "address is not a hex wallet address")
	}
	sig, err := decodeSignature(signature)
	if err != nil {
		return invalid(domain.SignatureInvalidFormat, err.Error())
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return invalid(domain.SignatureInvalidFormat, "signature recovery failed")
	}
	recovered := strings.ToLower(crypto.PubkeyToAddress(*pub).Hex())
	claimed := strings.ToLower(common.HexToAddress(strings.TrimSpace(address)).Hex())
	if recovered != claimed {
		decision := invalid(domain.SignatureSignerMismatch, "recovered signer does not match address")
		decision.Recovered = recovered
		return decision
	}
	return domain.SignatureDecision{Valid: true, Recovered: recovered}
}

func invalid(failure domain.SignatureFailure, message string) domain.SignatureDecision {
	return domain.SignatureDecision{Err: &domain.SignatureError{Failure: failure, Message: message}}
}

// decodeSignature accepts r||s||v hex with v in {0,1,27,28} and returns the
// recovery form expected by go-ethereum.
func decodeSignature(signature string) ([]byte, error) {
	trimmed := strings.TrimSpace(signature)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, errors.New("signature is not hex")
	}
	if len(raw) != signatureLength {
		return nil, errors.New("signature must be 65 bytes")
	}
	sig := make([]byte, signatureLength)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return nil, errors.New("signature recovery id out of range")
	}
	return sig, nil
}
