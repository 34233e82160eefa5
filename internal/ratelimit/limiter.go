package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/rryowa/basicauth/internal/models"
)

var (
	ErrUnknownOperation = errors.New("rate limit: unknown operation")
	ErrBackendFailure   = errors.New("rate limit: backend failure")
)

type Rule struct {
	Window      time.Duration
	MaxRequests int
}

// DefaultRules returns a fresh copy of the per-operation limits.
func DefaultRules() map[models.Operation]Rule {
	return map[models.Operation]Rule{
		models.OpSignIn:         {Window: time.Minute, MaxRequests: 20},
		models.OpRefresh:        {Window: time.Minute, MaxRequests: 120},
		models.OpSignOut:        {Window: time.Minute, MaxRequests: 60},
		models.OpChangePassword: {Window: time.Minute, MaxRequests: 20},
		models.OpRegister:       {Window: time.Minute, MaxRequests: 10},
	}
}

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects one request of op from subject.
type Limiter interface {
	Allow(ctx context.Context, subject string, op models.Operation) (Decision, error)
}

func KeyFor(subject string, op models.Operation) string {
	return subject + ":" + string(op)
}

func largestWindow(rules map[models.Operation]Rule) time.Duration {
	var largest time.Duration
	for _, r := range rules {
		if r.Window > largest {
			largest = r.Window
		}
	}
	return largest
}

// ceilSeconds rounds d up to a whole number of seconds, clamping negatives to zero.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}
