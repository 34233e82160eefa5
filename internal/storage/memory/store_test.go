package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rryowa/basicauth/internal/models"
	"github.com/rryowa/basicauth/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newTestStorage(t *testing.T) (*Storage, *fakeClock, *models.Account) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStorage(nil, clock.Now)

	account, err := s.CreateAccount(context.Background(), models.CreateAccountInput{
		Email:        "Alice@Example.com",
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return s, clock, account
}

func createSession(t *testing.T, s *Storage, accountID, id, token string, expires time.Time) {
	t.Helper()
	_, err := s.CreateSession(context.Background(), models.CreateSessionInput{
		AccountID:        accountID,
		SessionID:        id,
		RefreshTokenHash: hashOf(token),
		ExpiresAt:        expires,
	})
	if err != nil {
		t.Fatalf("create session %s: %v", id, err)
	}
}

func TestCreateAccountNormalizesAndRejectsDuplicates(t *testing.T) {
	s, _, account := newTestStorage(t)
	ctx := context.Background()

	if account.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", account.Email)
	}
	if account.TokenVersion != 0 {
		t.Fatalf("token version = %d, want 0", account.TokenVersion)
	}

	_, err := s.CreateAccount(ctx, models.CreateAccountInput{Email: " ALICE@example.com", PasswordHash: "x"})
	if !errors.Is(err, storage.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	found, err := s.FindAccountByEmail(ctx, "alice@EXAMPLE.com")
	if err != nil || found.ID != account.ID {
		t.Fatalf("find by email: %v %+v", err, found)
	}

	if _, err := s.FindAccountByID(ctx, "missing"); !errors.Is(err, storage.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestRevokeSessionIsIdempotent(t *testing.T) {
	s, clock, account := newTestStorage(t)
	ctx := context.Background()
	createSession(t, s, account.ID, "a", "token-a", clock.Now().Add(time.Hour))

	if err := s.RevokeSession(ctx, "a"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	first, _ := s.FindSessionByID(ctx, "a")

	clock.Advance(time.Minute)
	if err := s.RevokeSession(ctx, "a"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	second, _ := s.FindSessionByID(ctx, "a")

	if first.RevokedAt == nil || !first.RevokedAt.Equal(*second.RevokedAt) {
		t.Fatalf("revoked_at changed: %v -> %v", first.RevokedAt, second.RevokedAt)
	}

	if err := s.RevokeSession(ctx, "unknown"); err != nil {
		t.Fatalf("revoking unknown session must be a no-op: %v", err)
	}
}

func TestRotateSessionSingleUse(t *testing.T) {
	s, clock, account := newTestStorage(t)
	ctx := context.Background()
	createSession(t, s, account.ID, "a", "token-a", clock.Now().Add(time.Hour))

	res, err := s.RotateSession(ctx, models.RotationInput{
		CurrentSessionID:   "a",
		CurrentRefreshHash: hashOf("token-a"),
		NewSessionID:       "b",
		NewRefreshHash:     hashOf("token-b"),
		NewExpiresAt:       clock.Now().Add(time.Hour),
	})
	if err != nil || !res.OK || res.SessionID != "b" {
		t.Fatalf("rotate: %v %+v", err, res)
	}

	old, _ := s.FindSessionByID(ctx, "a")
	if old.RevokedAt == nil || old.ReplacedBySessionID == nil || *old.ReplacedBySessionID != "b" {
		t.Fatalf("old session not retired: %+v", old)
	}
	successor, _ := s.FindSessionByID(ctx, "b")
	if successor.RotatedFromSessionID == nil || *successor.RotatedFromSessionID != "a" {
		t.Fatalf("successor lineage missing: %+v", successor)
	}

	replay, err := s.RotateSession(ctx, models.RotationInput{
		CurrentSessionID:   "a",
		CurrentRefreshHash: hashOf("token-a"),
		NewSessionID:       "c",
		NewRefreshHash:     hashOf("token-c"),
		NewExpiresAt:       clock.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("replay rotate: %v", err)
	}
	if replay.OK || replay.Reason != models.RotationReplayed || replay.AccountID != account.ID {
		t.Fatalf("expected replayed, got %+v", replay)
	}

	successor, _ = s.FindSessionByID(ctx, "b")
	if storage.IsSessionUsable(successor, clock.Now()) {
		t.Fatal("successor must be revoked after replay")
	}
	if _, err := s.FindSessionByID(ctx, "c"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Fatalf("replay must not create a session, got %v", err)
	}
}

func TestRotateSessionUnknownAndExpired(t *testing.T) {
	s, clock, account := newTestStorage(t)
	ctx := context.Background()

	res, err := s.RotateSession(ctx, models.RotationInput{
		CurrentSessionID:   "nope",
		CurrentRefreshHash: hashOf("x"),
		NewSessionID:       "n",
		NewRefreshHash:     hashOf("y"),
		NewExpiresAt:       clock.Now().Add(time.Hour),
	})
	if err != nil || res.OK || res.Reason != models.RotationNotFound {
		t.Fatalf("unknown: %v %+v", err, res)
	}
	if s.Len() != 0 {
		t.Fatalf("unknown session must not create sessions, have %d", s.Len())
	}

	createSession(t, s, account.ID, "a", "token-a", clock.Now().Add(time.Minute))
	clock.Advance(2 * time.Minute)

	res, err = s.RotateSession(ctx, models.RotationInput{
		CurrentSessionID:   "a",
		CurrentRefreshHash: hashOf("token-a"),
		NewSessionID:       "b",
		NewRefreshHash:     hashOf("token-b"),
		NewExpiresAt:       clock.Now().Add(time.Hour),
	})
	if err != nil || res.OK || res.Reason != models.RotationExpired {
		t.Fatalf("expired: %v %+v", err, res)
	}
	expired, _ := s.FindSessionByID(ctx, "a")
	if expired.RevokedAt == nil {
		t.Fatal("expired session must be revoked")
	}
}

func TestRotateSessionHashMismatchRevokesAccount(t *testing.T) {
	s, clock, account := newTestStorage(t)
	ctx := context.Background()
	createSession(t, s, account.ID, "a", "token-a", clock.Now().Add(time.Hour))
	createSession(t, s, account.ID, "other", "token-o", clock.Now().Add(time.Hour))

	res, err := s.RotateSession(ctx, models.RotationInput{
		CurrentSessionID:   "a",
		CurrentRefreshHash: hashOf("forged"),
		NewSessionID:       "b",
		NewRefreshHash:     hashOf("token-b"),
		NewExpiresAt:       clock.Now().Add(time.Hour),
	})
	if err != nil || res.Reason != models.RotationReplayed {
		t.Fatalf("expected replayed: %v %+v", err, res)
	}
	for _, id := range []string{"a", "other"} {
		got, _ := s.FindSessionByID(ctx, id)
		if got.RevokedAt == nil {
			t.Fatalf("session %s must be revoked", id)
		}
	}
}

func TestRotateSessionConcurrentSingleWinner(t *testing.T) {
	s, clock, account := newTestStorage(t)
	createSession(t, s, account.ID, "a", "token-a", clock.Now().Add(time.Hour))

	const n = 16
	var wg sync.WaitGroup
	results := make(chan models.RotationResult, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.RotateSession(context.Background(), models.RotationInput{
				CurrentSessionID:   "a",
				CurrentRefreshHash: hashOf("token-a"),
				NewSessionID:       fmt.Sprintf("next-%d", i),
				NewRefreshHash:     hashOf(fmt.Sprintf("token-%d", i)),
				NewExpiresAt:       clock.Now().Add(time.Hour),
			})
			if err != nil {
				t.Errorf("rotate: %v", err)
				return
			}
			results <- res
		}(i)
	}
	wg.Wait()
	close(results)

	success := 0
	for res := range results {
		if res.OK {
			success++
			continue
		}
		if res.Reason != models.RotationReplayed {
			t.Fatalf("unexpected reason %q", res.Reason)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one rotation, got %d", success)
	}
	if s.Len() != 2 {
		t.Fatalf("expected original plus one successor, got %d sessions", s.Len())
	}
}

func TestUpdatePasswordAndRevokeSessions(t *testing.T) {
	s, clock, account := newTestStorage(t)
	ctx := context.Background()
	createSession(t, s, account.ID, "a", "token-a", clock.Now().Add(time.Hour))
	createSession(t, s, account.ID, "b", "token-b", clock.Now().Add(time.Hour))

	if err := s.UpdatePasswordAndRevokeSessions(ctx, account.ID, "new-hash"); err != nil {
		t.Fatalf("update password: %v", err)
	}

	updated, _ := s.FindAccountByID(ctx, account.ID)
	if updated.PasswordHash != "new-hash" || updated.TokenVersion != account.TokenVersion+1 {
		t.Fatalf("account not updated: %+v", updated)
	}
	for _, id := range []string{"a", "b"} {
		got, _ := s.FindSessionByID(ctx, id)
		if got.RevokedAt == nil {
			t.Fatalf("session %s must be revoked", id)
		}
	}

	err := s.UpdatePasswordAndRevokeSessions(ctx, "missing", "x")
	if !errors.Is(err, storage.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s, clock, account := newTestStorage(t)
	ctx := context.Background()
	createSession(t, s, account.ID, "a", "token-a", clock.Now().Add(time.Hour))

	got, _ := s.FindSessionByID(ctx, "a")
	now := clock.Now()
	got.RevokedAt = &now

	again, _ := s.FindSessionByID(ctx, "a")
	if again.RevokedAt != nil {
		t.Fatal("mutating a returned session must not affect storage")
	}
}
