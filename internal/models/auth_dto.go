package models

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	ConfirmPassword string  `json:"confirmPassword"`
	DisplayName     *string `json:"displayName,omitempty"`
	InviteToken     *string `json:"inviteToken,omitempty"`
}

type ChangePasswordRequest struct {
	CurrentPassword    string `json:"currentPassword"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type SessionResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	SessionID   string `json:"sessionId"`
	ExpiresAt   int64  `json:"expiresAt"`
}
