package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKey         = errors.New("unknown key")
	ErrIntegrity          = errors.New("integrity check failed")
	ErrNotFound           = errors.New("not found")
	ErrRotationInProgress = errors.New("rotation in progress")
	ErrUnauthorized       = errors.New("unauthorized")
)

// ValidationError reports malformed input or a malformed envelope field. It is
// always raised before any cryptographic work is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AccessDeniedError carries the policy decision reason. The reason is safe to
// show to the requester and is recorded verbatim in the audit log.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return "access denied: " + e.Reason
}

func IsAccessDenied(err error) (*AccessDeniedError, bool) {
	var denied *AccessDeniedError
	if errors.As(err, &denied) {
		return denied, true
	}
	return nil, false
}
