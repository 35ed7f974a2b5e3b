package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure taxonomy carried on terminal FAILED jobs and used
// by the retry policy to decide whether an error is worth retrying.
type ErrorKind string

const (
	// KindValidation covers malformed or unsupported input. Never retried.
	KindValidation ErrorKind = "VALIDATION"
	// KindProviderTransient covers rate limits, network failures and
	// 5xx-equivalent provider responses. Retried with backoff.
	KindProviderTransient ErrorKind = "PROVIDER_TRANSIENT"
	// KindProviderPermanent means the provider explicitly rejected the
	// content. Not retried, but eligible for fallback substitution.
	KindProviderPermanent ErrorKind = "PROVIDER_PERMANENT"
	// KindTimeout means the job's global deadline was exceeded. Terminal.
	KindTimeout ErrorKind = "TIMEOUT"
	// KindStorageFailure covers state-store and artifact I/O failures.
	// Treated as transient with its own bounded attempts.
	KindStorageFailure ErrorKind = "STORAGE_FAILURE"
)

func (k ErrorKind) Retryable() bool {
	return k == KindProviderTransient || k == KindStorageFailure
}

// Error is the typed pipeline error. Stage executors and clients return it
// with an explicit kind; anything untyped is classified at the retry
// boundary.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func WrapError(kind ErrorKind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the taxonomy kind from an error chain. Untyped errors
// default to PROVIDER_TRANSIENT so unknown failures stay retryable rather
// than silently terminal.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindProviderTransient
}

// DetailOf returns the human-readable detail for a terminal error field.
func DetailOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Err != nil {
			return fmt.Sprintf("%s: %v", pe.Detail, pe.Err)
		}
		return pe.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
