package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rryowa/basicauth/internal/metrics"
	"github.com/rryowa/basicauth/internal/models"
	"github.com/rryowa/basicauth/internal/storage"
	"github.com/rryowa/basicauth/internal/util"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	rotationOK     = "ok"
)

// IssuedSession is the result of sign-in, registration and refresh.
type IssuedSession struct {
	AccountID    string
	SessionID    string
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

// AuthSession is the caller identity resolved from an access token.
type AuthSession struct {
	AccountID   string
	Email       string
	DisplayName *string
	SessionID   string
	ExpiresAt   time.Time
}

type AuthService struct {
	storage  storage.Storage
	tokens   *TokenService
	hasher   *PasswordHasher
	notifier ReplayNotifier
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	cfg      *util.AuthConfig
	ready    bool
	now      func() time.Time
}

func NewAuthService(
	log *zap.SugaredLogger,
	cfg *util.AuthConfig,
	store storage.Storage,
	tokens *TokenService,
	hasher *PasswordHasher,
	notifier ReplayNotifier,
	m *metrics.Metrics,
	now func() time.Time,
) *AuthService {
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		storage:  store,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		metrics:  m,
		log:      log,
		cfg:      cfg,
		ready:    cfg.Enabled && util.ValidateAuthConfig(cfg).Valid(),
		now:      now,
	}
}

// Ready reports ErrAuthNotConfigured when the provider is disabled or misconfigured.
func (s *AuthService) Ready() error {
	if !s.ready {
		return ErrAuthNotConfigured
	}
	return nil
}

func (s *AuthService) SignIn(ctx context.Context, email, password string, meta models.SessionMetadata) (_ *IssuedSession, err error) {
	defer s.observe(models.OpSignIn, &err)

	email = storage.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidRequest
	}

	account, err := s.storage.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			s.hasher.VerifyDummy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("sign in: %w", err)
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.issueSession(ctx, account, meta)
}

func (s *AuthService) Register(ctx context.Context, in models.RegisterRequest, meta models.SessionMetadata) (_ *IssuedSession, err error) {
	defer s.observe(models.OpRegister, &err)

	email := storage.NormalizeEmail(in.Email)
	if email == "" || in.Password != in.ConfirmPassword {
		return nil, ErrInvalidRequest
	}

	_, err = s.storage.FindAccountByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, ErrInvalidCredentials
	case !errors.Is(err, storage.ErrAccountNotFound):
		return nil, fmt.Errorf("register: %w", err)
	}

	switch s.cfg.RegistrationMode {
	case util.RegistrationDisabled:
		return nil, ErrRegistrationDisabled
	case util.RegistrationInviteOnly:
		if in.InviteToken == nil || strings.TrimSpace(*in.InviteToken) == "" {
			return nil, ErrInviteRequired
		}
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	var displayName *string
	if in.DisplayName != nil {
		displayName = storage.NullableString(strings.TrimSpace(*in.DisplayName))
	}

	account, err := s.storage.CreateAccount(ctx, models.CreateAccountInput{
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	s.log.Infow("Account registered", "accountID", account.ID)
	return s.issueSession(ctx, account, meta)
}

// Refresh exchanges a refresh token for a new session. Every failure surfaces as
// ErrSessionExpired; a replay additionally revokes the account's sessions in storage.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta models.SessionMetadata) (_ *IssuedSession, err error) {
	defer s.observe(models.OpRefresh, &err)

	if refreshToken == "" {
		return nil, ErrSessionExpired
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrSessionExpired
	}

	account, err := s.storage.FindAccountByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if account.TokenVersion != claims.Version {
		return nil, ErrSessionExpired
	}

	newSessionID := uuid.NewString()
	newRefreshToken, err := s.tokens.SignRefresh(account.ID, newSessionID, account.TokenVersion)
	if err != nil {
		return nil, err
	}

	result, err := s.storage.RotateSession(ctx, models.RotationInput{
		CurrentSessionID:   claims.SessionID,
		CurrentRefreshHash: s.tokens.HashRefreshToken(refreshToken),
		NewSessionID:       newSessionID,
		NewRefreshHash:     s.tokens.HashRefreshToken(newRefreshToken),
		NewExpiresAt:       s.now().Add(s.tokens.RefreshTTL()),
		Metadata:           meta,
	})
	if err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	if !result.OK {
		s.metrics.ObserveRotation(string(result.Reason))
		if result.Reason == models.RotationReplayed {
			s.reportReplay(ctx, result.AccountID, claims.SessionID, meta)
		}
		return nil, ErrSessionExpired
	}
	s.metrics.ObserveRotation(rotationOK)

	if result.AccountID != account.ID {
		return nil, ErrSessionExpired
	}

	accessToken, err := s.tokens.SignAccess(account, newSessionID)
	if err != nil {
		return nil, err
	}

	return &IssuedSession{
		AccountID:    account.ID,
		SessionID:    newSessionID,
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		AccessTTL:    s.tokens.AccessTTL(),
		RefreshTTL:   s.tokens.RefreshTTL(),
	}, nil
}

// SignOut revokes whichever sessions the presented tokens name. Missing or invalid
// tokens are ignored.
func (s *AuthService) SignOut(ctx context.Context, refreshToken, accessToken string) (err error) {
	defer s.observe(models.OpSignOut, &err)

	if refreshToken != "" {
		if claims, verr := s.tokens.VerifyRefresh(refreshToken); verr == nil {
			if err := s.storage.RevokeSession(ctx, claims.SessionID); err != nil {
				return fmt.Errorf("sign out: %w", err)
			}
		}
	}

	if accessToken != "" {
		if claims, verr := s.tokens.VerifyAccess(accessToken); verr == nil {
			if err := s.storage.RevokeSession(ctx, claims.SessionID); err != nil {
				return fmt.Errorf("sign out: %w", err)
			}
		}
	}

	return nil
}

// GetSession resolves an access token into a live session. The session must be
// usable and the account's token version must match the token.
func (s *AuthService) GetSession(ctx context.Context, accessToken string) (*AuthSession, error) {
	if accessToken == "" {
		return nil, ErrSessionExpired
	}

	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, ErrSessionExpired
	}

	session, err := s.storage.FindSessionByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !storage.IsSessionUsable(session, s.now()) {
		return nil, ErrSessionExpired
	}

	account, err := s.storage.FindAccountByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("get session account: %w", err)
	}
	if account.TokenVersion != claims.Version {
		return nil, ErrSessionExpired
	}

	out := &AuthSession{
		AccountID:   claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		SessionID:   claims.SessionID,
	}
	if out.Email == "" {
		out.Email = account.Email
	}
	if out.DisplayName == nil {
		out.DisplayName = account.DisplayName
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, accessToken string, in models.ChangePasswordRequest) (err error) {
	defer s.observe(models.OpChangePassword, &err)

	session, err := s.GetSession(ctx, accessToken)
	if err != nil {
		return err
	}

	// The request body is validated here, after the session check, so a caller
	// without a session always sees ErrSessionExpired.
	if !passwordWithinBounds(in.CurrentPassword) || !passwordWithinBounds(in.NewPassword) ||
		in.NewPassword != in.ConfirmNewPassword {
		return ErrInvalidRequest
	}

	account, err := s.storage.FindAccountByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return ErrSessionExpired
		}
		return fmt.Errorf("change password: %w", err)
	}

	if !s.hasher.Verify(in.CurrentPassword, account.PasswordHash) {
		return ErrInvalidCredentials
	}

	newHash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return err
	}

	if err := s.storage.UpdatePasswordAndRevokeSessions(ctx, account.ID, newHash); err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	s.log.Infow("Password changed, sessions revoked", "accountID", account.ID)
	return nil
}

// EnsureBootstrapAccount creates the configured bootstrap account if it does not exist yet.
func (s *AuthService) EnsureBootstrapAccount(ctx context.Context) error {
	if !s.cfg.HasBootstrapAccount() {
		return nil
	}

	email := storage.NormalizeEmail(s.cfg.BootstrapEmail)
	_, err := s.storage.FindAccountByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrAccountNotFound) {
		return fmt.Errorf("bootstrap lookup: %w", err)
	}

	passwordHash, err := s.hasher.HashConfigured(s.cfg.BootstrapPassword)
	if err != nil {
		return fmt.Errorf("bootstrap password: %w", err)
	}

	account, err := s.storage.CreateAccount(ctx, models.CreateAccountInput{
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  &email,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			return nil
		}
		return fmt.Errorf("bootstrap create: %w", err)
	}

	s.log.Infow("Bootstrap account created", "accountID", account.ID)
	return nil
}

func (s *AuthService) issueSession(ctx context.Context, account *models.Account, meta models.SessionMetadata) (*IssuedSession, error) {
	sessionID := uuid.NewString()

	refreshToken, err := s.tokens.SignRefresh(account.ID, sessionID, account.TokenVersion)
	if err != nil {
		return nil, err
	}

	_, err = s.storage.CreateSession(ctx, models.CreateSessionInput{
		AccountID:        account.ID,
		SessionID:        sessionID,
		RefreshTokenHash: s.tokens.HashRefreshToken(refreshToken),
		ExpiresAt:        s.now().Add(s.tokens.RefreshTTL()),
		Metadata:         meta,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	accessToken, err := s.tokens.SignAccess(account, sessionID)
	if err != nil {
		return nil, err
	}

	return &IssuedSession{
		AccountID:    account.ID,
		SessionID:    sessionID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessTTL:    s.tokens.AccessTTL(),
		RefreshTTL:   s.tokens.RefreshTTL(),
	}, nil
}

func (s *AuthService) reportReplay(ctx context.Context, accountID, sessionID string, meta models.SessionMetadata) {
	s.log.Warnw("Refresh token replay detected, all account sessions revoked",
		"accountID", accountID,
		"sessionID", sessionID,
		"ip", meta.IPAddress,
	)

	if s.notifier == nil {
		return
	}
	s.notifier.NotifyReplay(ctx, ReplayAlert{
		Event:      EventRefreshReplay,
		AccountID:  accountID,
		SessionID:  sessionID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		DetectedAt: s.now().UTC(),
	})
}

func (s *AuthService) observe(op models.Operation, err *error) {
	s.metrics.ObserveRequest(op, outcomeOf(*err))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrRegistrationDisabled), errors.Is(err, ErrInviteRequired):
		return "forbidden"
	default:
		return outcomeError
	}
}
