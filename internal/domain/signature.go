package domain

import "time"

type SignatureFailure string

const (
	SignatureInvalidFormat  SignatureFailure = "invalid_format"
	SignatureSignerMismatch SignatureFailure = "signer_mismatch"
	SignatureExpired        SignatureFailure = "expired"
)

// SignatureError carries the failure kind of a rejected signature or
// challenge.
type SignatureError struct {
	Failure SignatureFailure
	Message string
}

func (e *SignatureError) Error() string {
	if e.Message == "" {
		return string(e.Failure)
	}
	return string(e.Failure) + ": " + e.Message
}

type SignatureDecision struct {
	Valid     bool
	Recovered string
	Err       *SignatureError
}

// Challenge is the parsed content of a sign-in challenge message.
type Challenge struct {
	Domain   string
	Address  string
	Nonce    string
	IssuedAt time.Time
}
