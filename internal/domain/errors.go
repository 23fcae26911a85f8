package domain

import "errors"

// Error taxonomy shared by the service layer, the stores and the HTTP API.
// Callers wrap these with context and match them with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrAuthExpired         = errors.New("session expired")
	ErrConflict            = errors.New("conflict")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNotReady is returned by an aggregator while a data set is still being
	// materialized upstream. The sync engine retries it before giving up.
	ErrNotReady = errors.New("aggregator data not ready")
)

// More specific sentinels, each wrapping one of the taxonomy errors above.
var (
	ErrUserNotFound       = wrapped(ErrNotFound, "user not found")
	ErrGoalNotFound       = wrapped(ErrNotFound, "goal not found for this period")
	ErrCredentialNotFound = wrapped(ErrNotFound, "credential not found")
	ErrNoCredentials      = wrapped(ErrNotFound, "no bank linked")
	ErrUsernameTaken      = wrapped(ErrConflict, "user already exists")
	ErrBadLogin           = wrapped(ErrUnauthenticated, "Invalid username or password")
)

type taxonomyError struct {
	kind error
	msg  string
}

func wrapped(kind error, msg string) error {
	return &taxonomyError{kind: kind, msg: msg}
}

func (e *taxonomyError) Error() string { return e.msg }

func (e *taxonomyError) Unwrap() error { return e.kind }
