package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrSessionExpired       = errors.New("session expired")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrAuthNotConfigured    = errors.New("authentication provider is not configured")
	ErrForbidden            = errors.New("forbidden")
	ErrRateLimited          = errors.New("too many requests")
	ErrRegistrationDisabled = errors.New("registration is currently disabled, please contact an administrator")
	ErrInviteRequired       = errors.New("a valid invite is required to register")

	// ErrTokenInvalid covers every token verification failure.
	ErrTokenInvalid = errors.New("token invalid")
)

// RateLimitError carries the quota hint for a rejected request.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
