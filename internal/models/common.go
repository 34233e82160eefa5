package models

//nolint:gosec //file not handles sensitive data
const (
	AccessCookieName  = "or3_access"
	RefreshCookieName = "or3_refresh"

	AccessCookiePath  = "/"
	RefreshCookiePath = "/api/basic-auth"

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type Operation string

const (
	OpSignIn         Operation = "basic-auth:sign-in"
	OpRefresh        Operation = "basic-auth:refresh"
	OpSignOut        Operation = "basic-auth:sign-out"
	OpChangePassword Operation = "basic-auth:change-password"
	OpRegister       Operation = "basic-auth:register"
)
