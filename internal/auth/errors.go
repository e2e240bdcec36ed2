package auth

import "errors"

var (
	// ErrDuplicateIdentity is returned when registering an email that already exists.
	ErrDuplicateIdentity = errors.New("auth: identity already exists")
	// ErrAuthenticationFailed covers unknown user, inactive user and wrong password alike.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")
	// ErrInvalidToken is used for expired, unknown or consumed access, refresh and reset tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrUnauthenticated means no credential was presented.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrDenied means the caller is authenticated but not permitted.
	ErrDenied = errors.New("auth: denied")

	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")
)
