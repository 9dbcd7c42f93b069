package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the closed set of failure classes the transport layer maps to responses.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindExpired     ErrorKind = "expired"
	KindSecurity    ErrorKind = "security"
	KindConflict    ErrorKind = "conflict"
	KindUpstream    ErrorKind = "upstream"
	KindRateLimited ErrorKind = "rate_limited"
	KindRepository  ErrorKind = "repository"
)

// Error is returned by every use case. Two errors match under errors.Is when their codes match.
type Error struct {
	Kind       ErrorKind
	Code       string
	RetryAfter time.Duration
	cause      error
}

func newError(kind ErrorKind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

var (
	ErrInvalidToken    = newError(KindValidation, "INVALID_TOKEN")
	ErrSessionNotFound = newError(KindNotFound, "SESSION_NOT_FOUND")
	ErrSessionExpired  = newError(KindExpired, "SESSION_EXPIRED")

	ErrAccessDenied             = newError(KindSecurity, "ACCESS_DENIED")
	ErrProviderError            = newError(KindUpstream, "PROVIDER_ERROR")
	ErrInvalidState             = newError(KindSecurity, "INVALID_STATE")
	ErrInvalidSignedState       = newError(KindSecurity, "INVALID_SIGNED_STATE")
	ErrSignedStateDecode        = newError(KindValidation, "FAILED_TO_DECODE_SIGNED_STATE")
	ErrCodeMissing              = newError(KindValidation, "CODE_MISSING")
	ErrUpstreamExchange         = newError(KindUpstream, "UPSTREAM_EXCHANGE_FAILED")
	ErrAccountInfo              = newError(KindUpstream, "FAILED_TO_GET_ACCOUNT_INFO")
	ErrProviderNotConfigured    = newError(KindValidation, "PROVIDER_NOT_CONFIGURED")
	ErrProviderAlreadyLinked    = newError(KindConflict, "PROVIDER_ALREADY_LINKED")
	ErrAccountLinkedToAnother   = newError(KindConflict, "ACCOUNT_ALREADY_LINKED_TO_ANOTHER_USER")
	ErrAccountNotFound          = newError(KindNotFound, "ACCOUNT_NOT_FOUND")
	ErrAccountAlreadyRegistered = newError(KindConflict, "ACCOUNT_ALREADY_REGISTERED")

	ErrInvalidCredentials     = newError(KindSecurity, "INVALID_CREDENTIALS")
	ErrInvalidCode            = newError(KindSecurity, "INVALID_CODE")
	ErrInvalidEmail           = newError(KindValidation, "INVALID_EMAIL")
	ErrPasswordPolicy         = newError(KindValidation, "PASSWORD_POLICY")
	ErrEmailNotVerified       = newError(KindValidation, "EMAIL_NOT_VERIFIED")
	ErrEmailAlreadyVerified   = newError(KindConflict, "EMAIL_ALREADY_VERIFIED")
	ErrEmailAlreadyRegistered = newError(KindConflict, "EMAIL_ALREADY_REGISTERED")
	ErrLastLoginMethod        = newError(KindConflict, "LAST_LOGIN_METHOD")
	ErrProviderNotLinked      = newError(KindNotFound, "PROVIDER_NOT_LINKED")
	ErrUserNotFound           = newError(KindNotFound, "USER_NOT_FOUND")

	ErrRateLimited = newError(KindRateLimited, "RATE_LIMITED")
	ErrRepository  = newError(KindRepository, "REPOSITORY_ERROR")
)

// RateLimited returns ErrRateLimited carrying a retry hint.
func RateLimited(retryAfter time.Duration) *Error {
	e := *ErrRateLimited
	e.RetryAfter = retryAfter
	return &e
}

func repositoryError(err error) error {
	return ErrRepository.wrap(err)
}

// AsError extracts the service error from err, treating anything unknown as a repository failure.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrRepository.wrap(err)
}

var (
	ErrInvalidIntent    = newError(KindValidation, "INVALID_INTENT")
	ErrMailUnavailable  = newError(KindUpstream, "MAIL_DELIVERY_FAILED")
	ErrInvalidUserInput = newError(KindValidation, "INVALID_INPUT")
)
