package models

import "time"

// Session is one node of a rotation chain.
type Session struct {
	ID                   string     `json:"id"`
	AccountID            string     `json:"account_id"`
	RefreshTokenHash     string     `json:"-"`
	ExpiresAt            time.Time  `json:"expires_at"`
	RevokedAt            *time.Time `json:"revoked_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	RotatedFromSessionID *string    `json:"rotated_from_session_id,omitempty"`
	ReplacedBySessionID  *string    `json:"replaced_by_session_id,omitempty"`
	IPAddress            *string    `json:"ip_address,omitempty"`
	UserAgent            *string    `json:"user_agent,omitempty"`
}

func (s *Session) Revoked() bool { return s.RevokedAt != nil }

type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

type CreateSessionInput struct {
	AccountID            string
	SessionID            string
	RefreshTokenHash     string
	ExpiresAt            time.Time
	RotatedFromSessionID *string
	Metadata             SessionMetadata
}

type RotationInput struct {
	CurrentSessionID   string
	CurrentRefreshHash string
	NewSessionID       string
	NewRefreshHash     string
	NewExpiresAt       time.Time
	Metadata           SessionMetadata
}

type RotationReason string

const (
	RotationNotFound RotationReason = "not_found"
	RotationExpired  RotationReason = "expired"
	RotationRevoked  RotationReason = "revoked"
	RotationReplayed RotationReason = "replayed"
)

type RotationResult struct {
	OK        bool
	Reason    RotationReason
	AccountID string
	SessionID string
}
