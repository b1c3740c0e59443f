package identity

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential  = errors.New("missing credential")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrExpiredCredential  = errors.New("expired credential")
	ErrIncompleteIdentity = errors.New("credential has no subject id")
)

// Code is the machine readable reason sent to clients so they can tell a
// re-login apart from a retry.
type Code string

const (
	CodeNoToken        Code = "NO_TOKEN"
	CodeTokenInvalid   Code = "TOKEN_INVALID"
	CodeTokenExpired   Code = "TOKEN_EXPIRED"
	CodeMissingSubject Code = "TOKEN_PAYLOAD_MISSING_ID"
)

// AuthError pairs one of the sentinel errors above with its client code.
type AuthError struct {
	Code    Code
	Err     error
	Wrapped error
}

func (e *AuthError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v (%v)", e.Code, e.Err, e.Wrapped)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

// Is lets errors.Is match against the sentinel errors.
func (e *AuthError) Is(target error) bool {
	return e.Err == target
}

func (e *AuthError) Unwrap() error {
	return e.Wrapped
}

func newAuthError(code Code, sentinel, wrapped error) *AuthError {
	return &AuthError{Code: code, Err: sentinel, Wrapped: wrapped}
}

// CodeOf returns the client code carried by err, or TOKEN_INVALID for any
// other error.
func CodeOf(err error) Code {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeTokenInvalid
}
