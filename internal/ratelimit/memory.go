package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rryowa/basicauth/internal/models"
)

// MemoryLimiter is a process-local sliding-window limiter. A single mutex makes
// each read-modify-write of a key linearizable.
type MemoryLimiter struct {
	mu            sync.Mutex
	rules         map[models.Operation]Rule
	buckets       map[string][]time.Time
	maxWindow     time.Duration
	sweepInterval time.Duration
	lastSweep     time.Time
	now           func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

func NewMemoryLimiter(rules map[models.Operation]Rule, sweepInterval time.Duration, now func() time.Time) *MemoryLimiter {
	if rules == nil {
		rules = DefaultRules()
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		rules:         rules,
		buckets:       make(map[string][]time.Time),
		maxWindow:     largestWindow(rules),
		sweepInterval: sweepInterval,
		now:           now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, subject string, op models.Operation) (Decision, error) {
	rule, ok := l.rules[op]
	if !ok {
		return Decision{}, ErrUnknownOperation
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	key := KeyFor(subject, op)
	recent := pruneBefore(l.buckets[key], now.Add(-rule.Window))

	if len(recent) >= rule.MaxRequests {
		l.buckets[key] = recent
		return Decision{
			Allowed:    false,
			Limit:      rule.MaxRequests,
			Remaining:  0,
			RetryAfter: ceilSeconds(recent[0].Add(rule.Window).Sub(now)),
		}, nil
	}

	recent = append(recent, now)
	l.buckets[key] = recent

	return Decision{
		Allowed:   true,
		Limit:     rule.MaxRequests,
		Remaining: max(0, rule.MaxRequests-len(recent)),
	}, nil
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *MemoryLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string][]time.Time)
}

func (l *MemoryLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.sweepInterval {
		return
	}
	l.lastSweep = now

	cutoff := now.Add(-l.maxWindow)
	for key, timestamps := range l.buckets {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// pruneBefore drops timestamps at or before cutoff. Timestamps are appended in order.
func pruneBefore(timestamps []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(timestamps), func(i int) bool {
		return timestamps[i].After(cutoff)
	})
	return timestamps[i:]
}
