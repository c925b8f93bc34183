package wallet

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"rewardguard/internal/domain"

	"github.com/google/uuid"
)

const (
	DefaultChallengeMaxAge = 5 * time.Minute
	defaultFutureSkew      = time.Minute
)

var challengePattern = regexp.MustCompile(`^(\S+) wants you to sign in with your wallet\.\n\nAddress: (0x[0-9a-fA-F]{40})\nNonce: ([A-Za-z0-9-]{8,64})\nIssued At: (\S+)$`)

type Verifier struct {
	now        func() time.Time
	futureSkew time.Duration
}

func NewVerifier(now func() time.Time, futureSkew time.Duration) *Verifier {
	if now == nil {
		now = time.Now
	}
	if futureSkew <= 0 {
		futureSkew = defaultFutureSkew
	}
	return &Verifier{now: now, futureSkew: futureSkew}
}

// BuildChallenge renders the sign-in message a wallet is asked to sign.
func BuildChallenge(domainName, address, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf("%s wants you to sign in with your wallet.\n\nAddress: %s\nNonce: %s\nIssued At: %s",
		domainName, address, nonce, issuedAt.UTC().Format(time.RFC3339))
}

func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidateChallenge parses a challenge message and rejects it when it does
// not follow the template or was issued more than maxAge ago.
func (v *Verifier) ValidateChallenge(message string, maxAge time.Duration) (domain.Challenge, error) {
	if maxAge <= 0 {
		maxAge = DefaultChallengeMaxAge
	}
	normalized := strings.TrimSpace(strings.ReplaceAll(message, "\r\n", "\n"))
	match := challengePattern.FindStringSubmatch(normalized)
	if match == nil {
		return domain.Challenge{}, &domain.SignatureError{Failure: domain.SignatureInvalidFormat, Message: "challenge does not match template"}
	}
	issuedAt, err := time.Parse(time.RFC3339, match[4])
	if err != nil {
		return domain.Challenge{}, &domain.SignatureError{Failure: domain.SignatureInvalidFormat, Message: "challenge timestamp is not RFC3339"}
	}
	now := v.now()
	if issuedAt.After(now.Add(v.futureSkew)) {
		return domain.Challenge{}, &domain.SignatureError{Failure: domain.SignatureExpired, Message: "challenge issued in the future"}
	}
	if now.Sub(issuedAt) > maxAge {
		return domain.Challenge{}, &domain.SignatureError{Failure: domain.SignatureExpired, Message: "challenge expired"}
	}
	return domain.Challenge{
		Domain:   match[1],
		Address:  strings.ToLower(match[2]),
		Nonce:    match[3],
		IssuedAt: issuedAt.UTC(),
	}, nil
}

// VerifyChallenge validates the challenge, checks it names address and
// verifies the signature over it.
func (v *Verifier) VerifyChallenge(address, message, signature string, maxAge time.Duration) domain.SignatureDecision {
	challenge, err := v.ValidateChallenge(message, maxAge)
	if err != nil {
		sigErr, ok := err.(*domain.SignatureError)
		if !ok {
			sigErr = &domain.SignatureError{Failure: domain.SignatureInvalidFormat, Message: err.Error()}
		}
		return domain.SignatureDecision{Err: sigErr}
	}
	if !strings.EqualFold(challenge.Address, strings.TrimSpace(address)) {
		return invalid(domain.SignatureSignerMismatch, "challenge was issued for another address")
	}
	return v.Verify(address, message, signature)
}
