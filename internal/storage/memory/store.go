package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rryowa/basicauth/internal/models"
	"github.com/rryowa/basicauth/internal/storage"
)

// Storage keeps accounts and sessions in process memory. One mutex guards every
// map so RotateSession and password changes are atomic with respect to each other.
type Storage struct {
	mu              sync.Mutex
	accountsByID    map[string]*models.Account
	accountsByEmail map[string]string
	sessions        map[string]*models.Session
	now             func() time.Time
	log             *zap.SugaredLogger
}

var _ storage.Storage = (*Storage)(nil)

func NewStorage(log *zap.SugaredLogger, now func() time.Time) *Storage {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Storage{
		accountsByID:    make(map[string]*models.Account),
		accountsByEmail: make(map[string]string),
		sessions:        make(map[string]*models.Session),
		now:             now,
		log:             log,
	}
}

func (m *Storage) CreateAccount(_ context.Context, in models.CreateAccountInput) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := storage.NormalizeEmail(in.Email)
	if _, ok := m.accountsByEmail[email]; ok {
		return nil, storage.ErrAccountExists
	}

	now := m.now().UTC()
	account := &models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: in.PasswordHash,
		DisplayName:  copyString(in.DisplayName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.accountsByID[account.ID] = account
	m.accountsByEmail[email] = account.ID

	m.log.Debugw("Account created", "accountID", account.ID)
	return copyAccount(account), nil
}

func (m *Storage) FindAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.accountsByEmail[storage.NormalizeEmail(email)]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return copyAccount(m.accountsByID[id]), nil
}

func (m *Storage) FindAccountByID(_ context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accountsByID[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (m *Storage) UpdatePasswordAndRevokeSessions(_ context.Context, accountID, newPasswordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accountsByID[accountID]
	if !ok {
		return storage.ErrAccountNotFound
	}

	now := m.now().UTC()
	account.PasswordHash = newPasswordHash
	account.TokenVersion++
	account.UpdatedAt = now
	m.revokeAllLocked(accountID, now)

	m.log.Debugw("Password updated", "accountID", accountID, "tokenVersion", account.TokenVersion)
	return nil
}

func (m *Storage) CreateSession(_ context.Context, in models.CreateSessionInput) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.createSessionLocked(in, m.now().UTC())
	if err != nil {
		return nil, err
	}
	return copySession(session), nil
}

func (m *Storage) FindSessionByID(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	return copySession(session), nil
}

func (m *Storage) RevokeSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[id]; ok && session.RevokedAt == nil {
		now := m.now().UTC()
		session.RevokedAt = &now
	}
	return nil
}

func (m *Storage) RevokeAllSessionsForAccount(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.revokeAllLocked(accountID, m.now().UTC())
	return nil
}

func (m *Storage) RotateSession(_ context.Context, in models.RotationInput) (models.RotationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	current := m.sessions[in.CurrentSessionID]
	decision := storage.DecideRotation(current, in.CurrentRefreshHash, now)
	if current == nil {
		return models.RotationResult{Reason: decision.Reason}, nil
	}

	result := models.RotationResult{Reason: decision.Reason, AccountID: current.AccountID}
	switch decision.Action {
	case storage.ActionReject:
	case storage.ActionRevokeSession:
		if current.RevokedAt == nil {
			current.RevokedAt = &now
		}
	case storage.ActionRevokeAccount:
		m.revokeAllLocked(current.AccountID, now)
		m.log.Warnw("Refresh token replay, account sessions revoked", "accountID", current.AccountID)
	case storage.ActionRotate:
		rotatedFrom := current.ID
		_, err := m.createSessionLocked(models.CreateSessionInput{
			AccountID:            current.AccountID,
			SessionID:            in.NewSessionID,
			RefreshTokenHash:     in.NewRefreshHash,
			ExpiresAt:            in.NewExpiresAt,
			RotatedFromSessionID: &rotatedFrom,
			Metadata:             in.Metadata,
		}, now)
		if err != nil {
			return models.RotationResult{}, err
		}
		replacedBy := in.NewSessionID
		current.RevokedAt = &now
		current.ReplacedBySessionID = &replacedBy
		result = models.RotationResult{OK: true, AccountID: current.AccountID, SessionID: in.NewSessionID}
	}
	return result, nil
}

// Len returns the number of stored sessions.
func (m *Storage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Storage) createSessionLocked(in models.CreateSessionInput, now time.Time) (*models.Session, error) {
	if _, ok := m.sessions[in.SessionID]; ok {
		return nil, fmt.Errorf("session %s already exists", in.SessionID)
	}
	session := &models.Session{
		ID:                   in.SessionID,
		AccountID:            in.AccountID,
		RefreshTokenHash:     in.RefreshTokenHash,
		ExpiresAt:            in.ExpiresAt.UTC(),
		CreatedAt:            now,
		RotatedFromSessionID: copyString(in.RotatedFromSessionID),
		IPAddress:            storage.NullableString(in.Metadata.IPAddress),
		UserAgent:            storage.NullableString(in.Metadata.UserAgent),
	}
	m.sessions[session.ID] = session
	return session, nil
}

func (m *Storage) revokeAllLocked(accountID string, now time.Time) {
	for _, session := range m.sessions {
		if session.AccountID == accountID && session.RevokedAt == nil {
			revokedAt := now
			session.RevokedAt = &revokedAt
		}
	}
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	c.DisplayName = copyString(a.DisplayName)
	return &c
}

func copySession(s *models.Session) *models.Session {
	c := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	c.RotatedFromSessionID = copyString(s.RotatedFromSessionID)
	c.ReplacedBySessionID = copyString(s.ReplacedBySessionID)
	c.IPAddress = copyString(s.IPAddress)
	c.UserAgent = copyString(s.UserAgent)
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
