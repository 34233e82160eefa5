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

const sessionColumns = `id, account_id, refresh_token_hash, expires_at, revoked_at, created_at,
	rotated_from_session_id, replaced_by_session_id, ip_address, user_agent`

type SessionRepository struct {
	db  storage.DBTX
	now func() time.Time
}

func NewSessionRepository(db storage.DBTX, now func() time.Time) *SessionRepository {
	return &SessionRepository{db: db, now: now}
}

func (r *SessionRepository) CreateSession(ctx context.Context, in models.CreateSessionInput) (*models.Session, error) {
	return r.createSessionAt(ctx, in, r.now().UTC())
}

func (r *SessionRepository) createSessionAt(ctx context.Context, in models.CreateSessionInput, at time.Time) (*models.Session, error) {
	query := `INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, NULL, $5, $6, NULL, $7, $8)
		RETURNING ` + sessionColumns
	session, err := scanSession(r.db.QueryRowContext(
		ctx,
		query,
		in.SessionID,
		in.AccountID,
		in.RefreshTokenHash,
		in.ExpiresAt.UTC(),
		at,
		in.RotatedFromSessionID,
		storage.NullableString(in.Metadata.IPAddress),
		storage.NullableString(in.Metadata.UserAgent),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) FindSessionByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 LIMIT 1`
	return r.findSession(ctx, query, id)
}

func (r *SessionRepository) findSessionByIDForUpdate(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	return r.findSession(ctx, query, id)
}

func (r *SessionRepository) findSession(ctx context.Context, query, id string) (*models.Session, error) {
	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, storage.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// RevokeSession is idempotent: an existing revoked_at is never overwritten.
func (r *SessionRepository) RevokeSession(ctx context.Context, id string) error {
	return r.revokeSessionAt(ctx, id, r.now().UTC())
}

func (r *SessionRepository) revokeSessionAt(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE sessions SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

func (r *SessionRepository) RevokeAllSessionsForAccount(ctx context.Context, accountID string) error {
	return r.revokeAllAt(ctx, accountID, r.now().UTC())
}

func (r *SessionRepository) revokeAllAt(ctx context.Context, accountID string, at time.Time) error {
	query := `UPDATE sessions SET revoked_at = COALESCE(revoked_at, $2) WHERE account_id = $1`
	if _, err := r.db.ExecContext(ctx, query, accountID, at); err != nil {
		return fmt.Errorf("revoke account sessions: %w", err)
	}
	return nil
}

func (r *SessionRepository) markRotatedAt(ctx context.Context, oldID, newID string, at time.Time) error {
	query := `UPDATE sessions SET revoked_at = $2, replaced_by_session_id = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, oldID, at, newID); err != nil {
		return fmt.Errorf("failed to mark session as rotated: %w", err)
	}
	return nil
}

func (r *SessionRepository) accountIDForSession(ctx context.Context, id string) (string, error) {
	var accountID string
	err := r.db.QueryRowContext(ctx, `SELECT account_id FROM sessions WHERE id = $1`, id).Scan(&accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrSessionNotFound
		}
		return "", fmt.Errorf("get session owner: %w", err)
	}
	return accountID, nil
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session     models.Session
		revokedAt   sql.NullTime
		rotatedFrom sql.NullString
		replacedBy  sql.NullString
		ipAddress   sql.NullString
		userAgent   sql.NullString
	)
	err := row.Scan(
		&session.ID,
		&session.AccountID,
		&session.RefreshTokenHash,
		&session.ExpiresAt,
		&revokedAt,
		&session.CreatedAt,
		&rotatedFrom,
		&replacedBy,
		&ipAddress,
		&userAgent,
	)
	if err != nil {
		return nil, err
	}
	session.RevokedAt = nullTimePtr(revokedAt)
	session.RotatedFromSessionID = nullStringPtr(rotatedFrom)
	session.ReplacedBySessionID = nullStringPtr(replacedBy)
	session.IPAddress = nullStringPtr(ipAddress)
	session.UserAgent = nullStringPtr(userAgent)
	return &session, nil
}
