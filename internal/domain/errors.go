package domain

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrInvalidAddress      = errors.New("invalid wallet address")
	ErrDuplicateClaim      = errors.New("duplicate claim")
	ErrHandleTaken         = errors.New("handle already linked to another wallet")
	ErrExternalUnavailable = errors.New("external service unavailable")
	ErrRateLimiterCapacity = errors.New("rate limiter capacity exceeded")
	ErrRitualDoneToday     = errors.New("ritual already completed today")
	ErrHandleCapReached    = errors.New("handle ritual cap reached")
)
