package service

import "errors"

// Sentinel errors recovered at the handler layer and mapped to stable
// caller-facing error kinds. Credential and token failures are deliberately
// generic: the same error covers unknown account, inactive account, and bad
// password so responses cannot be used as an enumeration oracle.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrMFARequired        = errors.New("mfa code required")
	ErrInvalidMFACode     = errors.New("invalid mfa code")
	ErrMFAAlreadyEnabled  = errors.New("mfa already enabled")
	ErrMFANotSetUp        = errors.New("mfa not set up")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrAlreadyVerified    = errors.New("email already verified")
	ErrNotPending         = errors.New("account is not pending approval")
)
