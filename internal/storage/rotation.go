package storage

import (
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rryowa/basicauth/internal/models"
)

type RotationAction int

const (
	// ActionReject leaves storage untouched.
	ActionReject RotationAction = iota
	// ActionRevokeSession revokes only the presented session.
	ActionRevokeSession
	// ActionRevokeAccount revokes every session of the owning account.
	ActionRevokeAccount
	// ActionRotate creates the successor and retires the current session.
	ActionRotate
)

type RotationDecision struct {
	Action RotationAction
	Reason models.RotationReason
}

// DecideRotation is the rotation state machine. Backends must evaluate it and apply
// the resulting action inside the same transaction that read current.
func DecideRotation(current *models.Session, presentedHash string, now time.Time) RotationDecision {
	if current == nil {
		return RotationDecision{Action: ActionReject, Reason: models.RotationNotFound}
	}

	if !current.ExpiresAt.After(now) {
		return RotationDecision{Action: ActionRevokeSession, Reason: models.RotationExpired}
	}

	sameHash := HashEqual(current.RefreshTokenHash, presentedHash)

	if current.Revoked() {
		if current.ReplacedBySessionID != nil && sameHash {
			return RotationDecision{Action: ActionRevokeAccount, Reason: models.RotationReplayed}
		}
		return RotationDecision{Action: ActionReject, Reason: models.RotationRevoked}
	}

	if !sameHash {
		return RotationDecision{Action: ActionRevokeAccount, Reason: models.RotationReplayed}
	}

	return RotationDecision{Action: ActionRotate}
}

// HashEqual compares two hex digests in constant time.
func HashEqual(left, right string) bool {
	if len(left) != len(right) {
		return false
	}

	l, err := hex.DecodeString(left)
	if err != nil {
		return false
	}
	r, err := hex.DecodeString(right)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(l, r) == 1
}

// IsSessionUsable reports whether s exists, is not revoked and has not expired.
func IsSessionUsable(s *models.Session, now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Revoked() {
		return false
	}
	return s.ExpiresAt.After(now)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
