package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rryowa/basicauth/internal/migrations"
	"github.com/rryowa/basicauth/internal/models"
	"github.com/rryowa/basicauth/internal/storage"

	_ "github.com/lib/pq"
)

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newIntegrationStorage(t *testing.T) (*Storage, *models.Account) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := migrations.RunMigrations(db, zap.NewNop().Sugar()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s := NewStorage(db, nil)
	account, err := s.CreateAccount(context.Background(), models.CreateAccountInput{
		Email:        fmt.Sprintf("user-%s@example.com", uuid.NewString()),
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return s, account
}

func TestPostgresAccountUniqueness(t *testing.T) {
	s, account := newIntegrationStorage(t)

	_, err := s.CreateAccount(context.Background(), models.CreateAccountInput{
		Email:        account.Email,
		PasswordHash: "other",
	})
	if !errors.Is(err, storage.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestPostgresRotationAndReplay(t *testing.T) {
	s, account := newIntegrationStorage(t)
	ctx := context.Background()

	first := uuid.NewString()
	_, err := s.CreateSession(ctx, models.CreateSessionInput{
		AccountID:        account.ID,
		SessionID:        first,
		RefreshTokenHash: hashOf("token-a"),
		ExpiresAt:        time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	second := uuid.NewString()
	res, err := s.RotateSession(ctx, models.RotationInput{
		CurrentSessionID:   first,
		CurrentRefreshHash: hashOf("token-a"),
		NewSessionID:       second,
		NewRefreshHash:     hashOf("token-b"),
		NewExpiresAt:       time.Now().Add(time.Hour),
	})
	if err != nil || !res.OK {
		t.Fatalf("rotate: %v %+v", err, res)
	}

	res, err = s.RotateSession(ctx, models.RotationInput{
		CurrentSessionID:   first,
		CurrentRefreshHash: hashOf("token-a"),
		NewSessionID:       uuid.NewString(),
		NewRefreshHash:     hashOf("token-c"),
		NewExpiresAt:       time.Now().Add(time.Hour),
	})
	if err != nil || res.Reason != models.RotationReplayed {
		t.Fatalf("expected replay: %v %+v", err, res)
	}

	successor, err := s.FindSessionByID(ctx, second)
	if err != nil {
		t.Fatalf("find successor: %v", err)
	}
	if storage.IsSessionUsable(successor, time.Now()) {
		t.Fatal("successor must be revoked after replay")
	}
}

func TestPostgresConcurrentRotationSingleWinner(t *testing.T) {
	s, account := newIntegrationStorage(t)
	ctx := context.Background()

	current := uuid.NewString()
	_, err := s.CreateSession(ctx, models.CreateSessionInput{
		AccountID:        account.ID,
		SessionID:        current,
		RefreshTokenHash: hashOf("token-a"),
		ExpiresAt:        time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.RotateSession(ctx, models.RotationInput{
				CurrentSessionID:   current,
				CurrentRefreshHash: hashOf("token-a"),
				NewSessionID:       uuid.NewString(),
				NewRefreshHash:     hashOf(uuid.NewString()),
				NewExpiresAt:       time.Now().Add(time.Hour),
			})
			if err != nil {
				t.Errorf("rotate: %v", err)
				return
			}
			if res.OK {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly one rotation, got %d", success)
	}
}

func TestPostgresUpdatePasswordRevokesSessions(t *testing.T) {
	s, account := newIntegrationStorage(t)
	ctx := context.Background()

	id := uuid.NewString()
	_, err := s.CreateSession(ctx, models.CreateSessionInput{
		AccountID:        account.ID,
		SessionID:        id,
		RefreshTokenHash: hashOf("token"),
		ExpiresAt:        time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := s.UpdatePasswordAndRevokeSessions(ctx, account.ID, "new-hash"); err != nil {
		t.Fatalf("update password: %v", err)
	}

	updated, err := s.FindAccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if updated.TokenVersion != account.TokenVersion+1 || updated.PasswordHash != "new-hash" {
		t.Fatalf("account not updated: %+v", updated)
	}

	session, err := s.FindSessionByID(ctx, id)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if session.RevokedAt == nil {
		t.Fatal("session must be revoked")
	}
}

func TestPostgresReplayWaitsForSiblingRotation(t *testing.T) {
	s, account := newIntegrationStorage(t)
	ctx := context.Background()

	first := uuid.NewString()
	_, err := s.CreateSession(ctx, models.CreateSessionInput{
		AccountID:        account.ID,
		SessionID:        first,
		RefreshTokenHash: hashOf("token-a"),
		ExpiresAt:        time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	second := uuid.NewString()
	res, err := s.RotateSession(ctx, models.RotationInput{
		CurrentSessionID:   first,
		CurrentRefreshHash: hashOf("token-a"),
		NewSessionID:       second,
		NewRefreshHash:     hashOf("token-b"),
		NewExpiresAt:       time.Now().Add(time.Hour),
	})
	if err != nil || !res.OK {
		t.Fatalf("rotate: %v %+v", err, res)
	}

	// Rotate second -> third inside an open transaction, the way RotateSession does.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if err := NewAccountRepository(tx, s.now).lockAccountForRotation(ctx, account.ID); err != nil {
		t.Fatalf("lock account: %v", err)
	}
	sessionRepoTx := NewSessionRepository(tx, s.now)
	if _, err := sessionRepoTx.findSessionByIDForUpdate(ctx, second); err != nil {
		t.Fatalf("lock session: %v", err)
	}
	third := uuid.NewString()
	_, err = sessionRepoTx.createSessionAt(ctx, models.CreateSessionInput{
		AccountID:            account.ID,
		SessionID:            third,
		RefreshTokenHash:     hashOf("token-c"),
		ExpiresAt:            now.Add(time.Hour),
		RotatedFromSessionID: &second,
	}, now)
	if err != nil {
		t.Fatalf("create successor: %v", err)
	}
	if err := sessionRepoTx.markRotatedAt(ctx, second, third, now); err != nil {
		t.Fatalf("mark rotated: %v", err)
	}

	type outcome struct {
		res models.RotationResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.RotateSession(ctx, models.RotationInput{
			CurrentSessionID:   first,
			CurrentRefreshHash: hashOf("token-a"),
			NewSessionID:       uuid.NewString(),
			NewRefreshHash:     hashOf("token-x"),
			NewExpiresAt:       time.Now().Add(time.Hour),
		})
		done <- outcome{res: res, err: err}
	}()

	select {
	case got := <-done:
		t.Fatalf("replay finished while a sibling rotation held the account: %+v", got)
	case <-time.After(300 * time.Millisecond):
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit sibling rotation: %v", err)
	}

	var got outcome
	select {
	case got = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("replay did not finish after the sibling rotation committed")
	}
	if got.err != nil || got.res.Reason != models.RotationReplayed {
		t.Fatalf("expected replay: %v %+v", got.err, got.res)
	}

	successor, err := s.FindSessionByID(ctx, third)
	if err != nil {
		t.Fatalf("find successor: %v", err)
	}
	if successor.RevokedAt == nil {
		t.Fatal("successor committed by the sibling rotation must be revoked by the replay")
	}
}
