package service

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasherRoundTrip(t *testing.T) {
	h, err := NewPasswordHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	hash, err := h.Hash("password-1234")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "password-1234" {
		t.Fatal("hash must not equal plaintext")
	}
	if !h.Verify("password-1234", hash) {
		t.Fatal("correct password must verify")
	}
	if h.Verify("password-4321", hash) {
		t.Fatal("wrong password must not verify")
	}

	other, _ := h.Hash("password-1234")
	if other == hash {
		t.Fatal("hashes must be salted")
	}
}

func TestPasswordHasherRejectsBadLengths(t *testing.T) {
	h, _ := NewPasswordHasher(bcrypt.MinCost)

	if _, err := h.Hash("short"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("short password: %v", err)
	}
	if _, err := h.Hash(strings.Repeat("a", MaxPasswordBytes+1)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("long password: %v", err)
	}
}

func TestPasswordHasherMalformedHash(t *testing.T) {
	h, _ := NewPasswordHasher(bcrypt.MinCost)

	if h.Verify("password-1234", "not-a-bcrypt-hash") {
		t.Fatal("malformed hash must not verify")
	}
	if h.Verify("password-1234", "") {
		t.Fatal("empty hash must not verify")
	}
}

func TestHashConfiguredSkipsMinimumLength(t *testing.T) {
	h, _ := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.HashConfigured("short")
	if err != nil {
		t.Fatalf("hash configured: %v", err)
	}
	if !h.Verify("short", hash) {
		t.Fatal("configured password must verify")
	}

	if _, err := h.HashConfigured(""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("empty password: %v", err)
	}
	if _, err := h.HashConfigured(strings.Repeat("a", MaxPasswordBytes+1)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("long password: %v", err)
	}
	if _, err := h.Hash(strings.Repeat("a", MaxPasswordBytes)); err != nil {
		t.Fatalf("password at the bcrypt limit: %v", err)
	}
}
