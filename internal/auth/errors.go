package auth

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the auth flows. Callers match them with errors.Is;
// the concrete error often carries a more specific message.
var (
	ErrValidation         = errors.New("invalid request parameters")
	ErrUserNotFound       = errors.New("user not exists")
	ErrDuplicate          = errors.New("already exists")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidCredentials = errors.New("incorrect password")
	ErrInvalidOTP         = errors.New("invalid OTP")
	ErrOTPRateLimited     = errors.New("too many OTP requests, try again later")
	ErrForbidden          = errors.New("you are unable to access this platform")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenNotFound      = errors.New("token not found")
)

// ErrUserDeactivated is returned for a valid token whose owner was deactivated or deleted
var ErrUserDeactivated error = &kindError{kind: ErrUnauthenticated, msg: "user is deactivated"}

// ValidationError describes a missing or malformed input field
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// LockedError is returned while a login lockout is in effect
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("you have exceeded the number of attempts. you can login after %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// DuplicateError reports a unique field that is already taken
type DuplicateError struct {
	Field string
	Value string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists. Unique %s are allowed.", e.Value, e.Field)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// kindError gives a sentinel a caller-facing message without losing errors.Is matching
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func withMessage(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}
