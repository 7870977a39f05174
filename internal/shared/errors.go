package shared

import "errors"

var (
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrGuardMismatch indicates a role and permission belong to different guard namespaces.
	ErrGuardMismatch = errors.New("guard namespace mismatch")
	// ErrValidation indicates malformed or incomplete input.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized indicates a missing or invalid service token.
	ErrUnauthorized = errors.New("unauthorized")
)
