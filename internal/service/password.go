package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// PasswordCost targets roughly 100ms-scale verification.
	PasswordCost = 12

	MinPasswordLength = 8
	// MaxPasswordBytes is the bcrypt input limit.
	MaxPasswordBytes = 72
)

type PasswordHasher struct {
	cost      int
	dummyHash []byte
}

// NewPasswordHasher precomputes a dummy digest used to equalize timing when an
// account is missing or its stored hash is unusable.
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &PasswordHasher{cost: cost, dummyHash: dummy}, nil
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrInvalidRequest
	}
	return h.HashConfigured(password)
}

// HashConfigured hashes an operator-supplied password such as the bootstrap one.
// Only the bcrypt input limit applies.
func (h *PasswordHasher) HashConfigured(password string) (string, error) {
	if password == "" || len(password) > MaxPasswordBytes {
		return "", ErrInvalidRequest
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrInvalidRequest
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. A malformed hash still costs one
// full comparison.
func (h *PasswordHasher) Verify(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true
	}
	if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		h.VerifyDummy(password)
	}
	return false
}

// VerifyDummy burns one comparison against the dummy digest.
func (h *PasswordHasher) VerifyDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}

func passwordWithinBounds(password string) bool {
	return len(password) >= MinPasswordLength && len(password) <= MaxPasswordBytes
}
