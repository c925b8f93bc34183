package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"rewardguard/internal/domain"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

func newKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func signMessage(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig)
}

func TestVerifyAcceptsSignerCaseInsensitively(t *testing.T) {
	key, address := newKey(t)
	v := NewVerifier(nil, 0)
	sig := signMessage(t, key, "hello")

	for _, candidate := range []string{address, strings.ToLower(address), "0x" + strings.ToUpper(address[2:])} {
		decision := v.Verify(candidate, "hello", sig)
		if !decision.Valid {
			t.Fatalf("expected valid signature for %s, got %+v", candidate, decision.Err)
		}
		if decision.Recovered != strings.ToLower(address) {
			t.Fatalf("unexpected recovered address %s", decision.Recovered)
		}
	}
}

func TestVerifyAcceptsRawRecoveryID(t *testing.T) {
	key, address := newKey(t)
	sig, err := crypto.Sign(accounts.TextHash([]byte("raw")), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	decision := NewVerifier(nil, 0).Verify(address, "raw", hex.EncodeToString(sig))
	if !decision.Valid {
		t.Fatalf("expected valid signature with v in {0,1}: %+v", decision.Err)
	}
}

func TestVerifyRejectsOtherSigner(t *testing.T) {
	key, _ := newKey(t)
	_, other := newKey(t)
	decision := NewVerifier(nil, 0).Verify(other, "hello", signMessage(t, key, "hello"))
	if decision.Valid {
		t.Fatalf("expected mismatch")
	}
	if decision.Err.Failure != domain.SignatureSignerMismatch {
		t.Fatalf("expected signer mismatch, got %s", decision.Err.Failure)
	}
}

func TestVerifyRejectsSingleByteMutation(t *testing.T) {
	key, address := newKey(t)
	sig := signMessage(t, key, "mutate me")
	raw, _ := hex.DecodeString(sig[2:])
	v := NewVerifier(nil, 0)

	for _, idx := range []int{0, 10, 31, 32, 50, 63} {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[idx] ^= 0x01
		decision := v.Verify(address, "mutate me", hex.EncodeToString(mutated))
		if decision.Valid {
			t.Fatalf("mutation at byte %d still verified", idx)
		}
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	key, address := newKey(t)
	good := signMessage(t, key, "m")
	badV := good[:len(good)-2] + "05"
	tests := []struct {
		name      string
		address   string
		signature string
	}{
		{name: "not hex", address: address, signature: "0xzz"},
		{name: "short", address: address, signature: "0x" + strings.Repeat("ab", 64)},
		{name: "bad recovery id", address: address, signature: badV},
		{name: "bad address", address: "0x1234", signature: good},
	}
	v := NewVerifier(nil, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := v.Verify(tt.address, "m", tt.signature)
			if decision.Valid {
				t.Fatalf("expected invalid")
			}
			if decision.Err.Failure != domain.SignatureInvalidFormat {
				t.Fatalf("expected invalid format, got %s", decision.Err.Failure)
			}
		})
	}
}

func TestValidateChallenge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifier(func() time.Time { return now }, time.Minute)
	address := "0x00000000000000000000000000000000000000AA"

	fresh := BuildChallenge("rewardguard", address, "abcdef0123456789", now.Add(-time.Minute))
	challenge, err := v.ValidateChallenge(fresh, 0)
	if err != nil {
		t.Fatalf("validate fresh challenge: %v", err)
	}
	if challenge.Address != strings.ToLower(address) {
		t.Fatalf("unexpected address %s", challenge.Address)
	}
	if challenge.Nonce != "abcdef0123456789" || challenge.Domain != "rewardguard" {
		t.Fatalf("unexpected challenge %+v", challenge)
	}

	tests := []struct {
		name    string
		message string
		want    domain.SignatureFailure
	}{
		{name: "expired", message: BuildChallenge("rewardguard", address, "abcdef0123456789", now.Add(-6*time.Minute)), want: domain.SignatureExpired},
		{name: "future", message: BuildChallenge("rewardguard", address, "abcdef0123456789", now.Add(5*time.Minute)), want: domain.SignatureExpired},
		{name: "template", message: "sign this please " + address, want: domain.SignatureInvalidFormat},
		{name: "short nonce", message: BuildChallenge("rewardguard", address, "abc", now), want: domain.SignatureInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateChallenge(tt.message, 5*time.Minute)
			sigErr, ok := err.(*domain.SignatureError)
			if !ok {
				t.Fatalf("expected signature error, got %v", err)
			}
			if sigErr.Failure != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, sigErr.Failure)
			}
		})
	}
}

func TestVerifyChallengeBindsAddress(t *testing.T) {
	now := time.Now().UTC()
	key, address := newKey(t)
	_, other := newKey(t)
	v := NewVerifier(func() time.Time { return now }, 0)

	message := BuildChallenge("rewardguard", address, NewNonce(), now)
	sig := signMessage(t, key, message)
	if decision := v.VerifyChallenge(address, message, sig, 0); !decision.Valid {
		t.Fatalf("expected valid challenge signature: %+v", decision.Err)
	}

	foreign := BuildChallenge("rewardguard", other, NewNonce(), now)
	decision := v.VerifyChallenge(address, foreign, signMessage(t, key, foreign), 0)
	if decision.Valid || decision.Err.Failure != domain.SignatureSignerMismatch {
		t.Fatalf("expected signer mismatch for foreign challenge, got %+v", decision)
	}
}
