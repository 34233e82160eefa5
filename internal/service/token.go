package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rryowa/basicauth/internal/models"
	"github.com/rryowa/basicauth/internal/util"
)

var ErrInvalidSigningMethod = errors.New("invalid signing method")

var signingMethod = jwt.SigningMethodHS512

type AccessClaims struct {
	SessionID   string  `json:"sid"`
	Version     int64   `json:"ver"`
	Type        string  `json:"typ"`
	Email       string  `json:"email,omitempty"`
	DisplayName *string `json:"display_name"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	SessionID string `json:"sid"`
	Version   int64  `json:"ver"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies access and refresh tokens with independent secrets.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenService(cfg *util.AuthConfig, now func() time.Time) *TokenService {
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		accessSecret:  cfg.JWTSecret,
		refreshSecret: cfg.RefreshSecret,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           now,
	}
}

func (ts *TokenService) AccessTTL() time.Duration  { return ts.accessTTL }
func (ts *TokenService) RefreshTTL() time.Duration { return ts.refreshTTL }

func (ts *TokenService) SignAccess(account *models.Account, sessionID string) (string, error) {
	now := ts.now()
	claims := &AccessClaims{
		SessionID:   sessionID,
		Version:     account.TokenVersion,
		Type:        models.TokenTypeAccess,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(ts.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// SignRefresh issues a refresh token with a fresh jti, so two tokens for the same
// session never hash alike.
func (ts *TokenService) SignRefresh(accountID, sessionID string, version int64) (string, error) {
	now := ts.now()
	claims := &RefreshClaims{
		SessionID: sessionID,
		Version:   version,
		Type:      models.TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.refreshTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(ts.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, nil
}

func (ts *TokenService) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ts.parse(token, claims, ts.accessSecret); err != nil {
		return nil, ErrTokenInvalid
	}
	if claims.Type != models.TokenTypeAccess || claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (ts *TokenService) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := ts.parse(token, claims, ts.refreshSecret); err != nil {
		return nil, ErrTokenInvalid
	}
	if claims.Type != models.TokenTypeRefresh || claims.Subject == "" || claims.SessionID == "" || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// HashRefreshToken is the sha256 hex digest stored in place of the refresh token.
func (ts *TokenService) HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (ts *TokenService) parse(token string, claims jwt.Claims, secret []byte) error {
	if token == "" || len(secret) == 0 {
		return ErrTokenInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithLeeway(util.JWTLeeWay),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	}

	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != signingMethod.Alg() {
				return nil, ErrInvalidSigningMethod
			}
			return secret, nil
		},
		opts...,
	)
	if err != nil {
		return fmt.Errorf("parse token claims: %w", err)
	}
	if parsed == nil || !parsed.Valid {
		return ErrTokenInvalid
	}
	return nil
}
