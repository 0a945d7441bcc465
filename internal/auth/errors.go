package auth

import "errors"

var (
	// ErrAuthInvalid covers every session-token failure: missing, malformed,
	// tampered, or expired. Callers must treat it as "re-authenticate", never
	// as a partial identity.
	ErrAuthInvalid = errors.New("invalid or expired session token")

	// ErrCsrfMismatch means the double-submit pair was absent or unequal. It is
	// fatal for the request only and does not revoke the session.
	ErrCsrfMismatch = errors.New("csrf token missing or mismatched")

	// ErrInvalidCredentials is deliberately shared between unknown-user and
	// wrong-password so login failures cannot enumerate usernames.
	ErrInvalidCredentials = errors.New("incorrect username or password")

	ErrSecretRequired = errors.New("signing secret is required")
)
