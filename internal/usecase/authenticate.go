package usecase

import (
	"strings"
	"time"

	"rewardguard/internal/domain"
)

// authenticateWallet canonicalises wallet and checks that the caller proved
// ownership, either through an authenticated transport or a signed
// challenge.
func authenticateWallet(verifier SignatureVerifier, maxAge time.Duration, wallet string, authenticated bool, challenge *domain.SignedChallenge) (string, *domain.Denial) {
	canonical, err := domain.CanonicalWallet(wallet)
	if err != nil {
		return "", domain.Deny(domain.CodeInvalidSignature, "wallet address is malformed")
	}
	if authenticated {
		return canonical, nil
	}
	if challenge == nil || strings.TrimSpace(challenge.Signature) == "" {
		return canonical, domain.Deny(domain.CodeInvalidSignature, "sign the wallet challenge or sign in before claiming")
	}
	if verifier == nil {
		return canonical, domain.Deny(domain.CodeInvalidSignature, "wallet signatures cannot be checked")
	}
	decision := verifier.VerifyChallenge(canonical, challenge.Message, challenge.Signature, maxAge)
	if decision.Valid {
		return canonical, nil
	}
	return canonical, domain.Deny(domain.CodeInvalidSignature, signatureMessage(decision.Err))
}

func signatureMessage(err *domain.SignatureError) string {
	if err == nil {
		return "wallet signature is invalid"
	}
	switch err.Failure {
	case domain.SignatureExpired:
		return "the wallet challenge has expired; request a new one"
	case domain.SignatureSignerMismatch:
		return "the signature was not produced by this wallet"
	default:
		return "the wallet signature or challenge is malformed"
	}
}
