package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidPayload     = errors.New("invalid webhook format")
	ErrMissingCredentials = errors.New("missing credentials")
)

// AuthError means a CRM session could not be established or was rejected.
// It is recoverable: the next call logs in again.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crm auth: %s: %v", e.Reason, e.Err)
	}
	return "crm auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// LookupError is a failed contact lookup. Callers log and swallow it.
type LookupError struct {
	Field string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("contact lookup on %s: %v", e.Field, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// SubmissionError means the CRM rejected or never received a case insert.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("case submission: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ReplyError is a failed reply to the messaging platform.
type ReplyError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ReplyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line reply: %v", e.Err)
	}
	return fmt.Sprintf("line reply: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *ReplyError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
