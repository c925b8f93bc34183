package wallet

import (
	"errors"
	"time"

	"rewardguard/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

type SessionClaims struct {
	Wallet string `json:"wallet"`
	jwt.RegisteredClaims
}

// SessionIssuer mints wallet session tokens once a challenge signature has
// been verified.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionIssuer(secret []byte, ttl time.Duration, now func() time.Time) (*SessionIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &SessionIssuer{secret: secret, ttl: ttl, now: now}, nil
}

func (s *SessionIssuer) Issue(wallet string) (string, time.Time, error) {
	canonical, err := domain.CanonicalWallet(wallet)
	if err != nil {
		return "", time.Time{}, err
	}
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.ttl)
	claims := SessionClaims{
		Wallet: canonical,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   canonical,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Parse validates a session token and returns the wallet it was issued to.
func (s *SessionIssuer) Parse(token string) (string, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid || claims.Wallet == "" {
		return "", domain.ErrUnauthorized
	}
	return claims.Wallet, nil
}
