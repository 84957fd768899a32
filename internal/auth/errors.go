package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")

	// ErrInvalidCredentials is the generic failure for a bad secret. The
	// same error is returned on the attempt that triggers a lockout so the
	// failing request does not reveal lock state.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAccountLocked is returned while a lockout window is in effect.
	ErrAccountLocked = errors.New("auth: account locked")
)
