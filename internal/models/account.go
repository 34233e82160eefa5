package models

import "time"

// Account is a credential-holding user. TokenVersion is bumped on password change
// and invalidates every token carrying an older version.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  *string   `json:"display_name,omitempty"`
	TokenVersion int64     `json:"token_version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateAccountInput struct {
	Email        string
	PasswordHash string
	DisplayName  *string
}
