package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rryowa/basicauth/internal/models"
	"github.com/rryowa/basicauth/internal/storage"
)

type Storage struct {
	db  *sql.DB
	now func() time.Time
	*AccountRepository
	*SessionRepository
}

var _ storage.Storage = (*Storage)(nil)

func NewStorage(db *sql.DB, now func() time.Time) *Storage {
	if now == nil {
		now = time.Now
	}
	return &Storage{
		db:                db,
		now:               now,
		AccountRepository: NewAccountRepository(db, now),
		SessionRepository: NewSessionRepository(db, now),
	}
}

// UpdatePasswordAndRevokeSessions swaps the password hash, bumps token_version and
// revokes every session of the account in a single transaction.
func (s *Storage) UpdatePasswordAndRevokeSessions(ctx context.Context, accountID, newPasswordHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	accountRepoTx := NewAccountRepository(tx, s.now)
	sessionRepoTx := NewSessionRepository(tx, s.now)

	if err := accountRepoTx.updatePasswordAt(ctx, accountID, newPasswordHash, now); err != nil {
		return err
	}
	if err := sessionRepoTx.revokeAllAt(ctx, accountID, now); err != nil {
		return fmt.Errorf("failed to revoke sessions in tx: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RotateSession locks the owning account and then the session row. Every rotation
// and replay on one account runs serially, so a replay's revoke-all sees any
// successor committed by a sibling rotation.
func (s *Storage) RotateSession(ctx context.Context, in models.RotationInput) (models.RotationResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RotationResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	accountRepoTx := NewAccountRepository(tx, s.now)
	sessionRepoTx := NewSessionRepository(tx, s.now)

	accountID, err := sessionRepoTx.accountIDForSession(ctx, in.CurrentSessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return models.RotationResult{Reason: models.RotationNotFound}, nil
		}
		return models.RotationResult{}, err
	}
	if err := accountRepoTx.lockAccountForRotation(ctx, accountID); err != nil {
		return models.RotationResult{}, err
	}

	current, err := sessionRepoTx.findSessionByIDForUpdate(ctx, in.CurrentSessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return models.RotationResult{Reason: models.RotationNotFound}, nil
		}
		return models.RotationResult{}, err
	}

	decision := storage.DecideRotation(current, in.CurrentRefreshHash, now)
	result := models.RotationResult{Reason: decision.Reason, AccountID: current.AccountID}

	switch decision.Action {
	case storage.ActionReject:
		return result, nil
	case storage.ActionRevokeSession:
		if err := sessionRepoTx.revokeSessionAt(ctx, current.ID, now); err != nil {
			return models.RotationResult{}, err
		}
	case storage.ActionRevokeAccount:
		if err := sessionRepoTx.revokeAllAt(ctx, current.AccountID, now); err != nil {
			return models.RotationResult{}, err
		}
	case storage.ActionRotate:
		rotatedFrom := current.ID
		_, err := sessionRepoTx.createSessionAt(ctx, models.CreateSessionInput{
			AccountID:            current.AccountID,
			SessionID:            in.NewSessionID,
			RefreshTokenHash:     in.NewRefreshHash,
			ExpiresAt:            in.NewExpiresAt,
			RotatedFromSessionID: &rotatedFrom,
			Metadata:             in.Metadata,
		}, now)
		if err != nil {
			return models.RotationResult{}, fmt.Errorf("failed to create new session in tx: %w", err)
		}
		if err := sessionRepoTx.markRotatedAt(ctx, current.ID, in.NewSessionID, now); err != nil {
			return models.RotationResult{}, err
		}
		result = models.RotationResult{OK: true, AccountID: current.AccountID, SessionID: in.NewSessionID}
	}

	if err = tx.Commit(); err != nil {
		return models.RotationResult{}, fmt.Errorf("commit transaction: %w", err)
	}
	return result, nil
}
