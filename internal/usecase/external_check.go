package usecase

import (
	"context"
	"time"

	"rewardguard/internal/domain"
)

const defaultExternalTimeout = 5 * time.Second

// CheckExternal runs one third-party check under a bounded timeout. When the
// check cannot answer, policy decides: Accept returns provisional=true with
// the zero value, Reject returns an ExternalServiceUnavailable denial.
// There is no retry.
func CheckExternal[T any](ctx context.Context, policy domain.OnUnavailable, timeout time.Duration, check func(context.Context) (T, error)) (value T, provisional bool, denial *domain.Denial) {
	if timeout <= 0 {
		timeout = defaultExternalTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, err := check(callCtx)
	if err == nil {
		return value, false, nil
	}
	var zero T
	if policy == domain.Accept {
		return zero, true, nil
	}
	return zero, false, domain.Deny(domain.CodeExternalServiceUnavailable,
		"the social network could not confirm this action right now; try again later")
}

// unavailableChecker stands in when no social API is configured, so every
// check falls to its OnUnavailable policy.
type unavailableChecker struct{}

func (unavailableChecker) CheckPublicPost(context.Context, string) (domain.PostCheck, error) {
	return domain.PostCheck{}, domain.ErrExternalUnavailable
}

func (unavailableChecker) CheckFollow(context.Context, domain.Platform, string, string) (bool, error) {
	return false, domain.ErrExternalUnavailable
}

func (unavailableChecker) CheckMembership(context.Context, domain.Platform, string, string) (bool, error) {
	return false, domain.ErrExternalUnavailable
}

func checkerOrUnavailable(c ClaimChecker) ClaimChecker {
	if c == nil {
		return unavailableChecker{}
	}
	return c
}
