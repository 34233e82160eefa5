package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rryowa/basicauth/internal/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so repositories can run inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Storage interface {
	AccountRepository
	SessionRepository
}

type AccountRepository interface {
	CreateAccount(ctx context.Context, in models.CreateAccountInput) (*models.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	FindAccountByID(ctx context.Context, id string) (*models.Account, error)
	// UpdatePasswordAndRevokeSessions swaps the hash, bumps token_version and revokes
	// every session of the account in one transaction.
	UpdatePasswordAndRevokeSessions(ctx context.Context, accountID, newPasswordHash string) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, in models.CreateSessionInput) (*models.Session, error)
	FindSessionByID(ctx context.Context, id string) (*models.Session, error)
	RevokeSession(ctx context.Context, id string) error
	RevokeAllSessionsForAccount(ctx context.Context, accountID string) error
	// RotateSession applies DecideRotation atomically against the stored session.
	RotateSession(ctx context.Context, in models.RotationInput) (models.RotationResult, error)
}
