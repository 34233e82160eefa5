package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/rryowa/basicauth/internal/models"
	"github.com/rryowa/basicauth/internal/storage"
)

const uniqueViolation = "23505"

const accountColumns = `id, email, password_hash, display_name, token_version, created_at, updated_at`

type AccountRepository struct {
	db  storage.DBTX
	now func() time.Time
}

func NewAccountRepository(db storage.DBTX, now func() time.Time) *AccountRepository {
	return &AccountRepository{db: db, now: now}
}

func (r *AccountRepository) CreateAccount(ctx context.Context, in models.CreateAccountInput) (*models.Account, error) {
	now := r.now().UTC()
	query := `INSERT INTO accounts (` + accountColumns + `) VALUES ($1, $2, $3, $4, 0, $5, $5) RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRowContext(
		ctx,
		query,
		uuid.NewString(),
		storage.NormalizeEmail(in.Email),
		in.PasswordHash,
		in.DisplayName,
		now,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

func (r *AccountRepository) FindAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1 LIMIT 1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, storage.NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	return account, nil
}

func (r *AccountRepository) FindAccountByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 LIMIT 1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account by id: %w", err)
	}
	return account, nil
}

// lockAccountForRotation serialises rotations, replays and password changes on one
// account until the surrounding tx ends. FOR NO KEY UPDATE still admits the
// FOR KEY SHARE taken by session inserts from sign-in.
func (r *AccountRepository) lockAccountForRotation(ctx context.Context, id string) error {
	var locked string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM accounts WHERE id = $1 FOR NO KEY UPDATE`, id).Scan(&locked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lock account: %w", err)
	}
	return nil
}

func (r *AccountRepository) updatePasswordAt(ctx context.Context, id, passwordHash string, at time.Time) error {
	query := `UPDATE accounts SET password_hash = $2, token_version = token_version + 1, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, passwordHash, at)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("password rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrAccountNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		account     models.Account
		displayName sql.NullString
	)
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&displayName,
		&account.TokenVersion,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.DisplayName = nullStringPtr(displayName)
	return &account, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
