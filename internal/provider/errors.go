package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a provider failure for retry/rotation decisions.
type Kind int

const (
	// KindRateLimited means the credential hit a rate limit; retryable by
	// rotating to the next credential.
	KindRateLimited Kind = iota
	// KindAuthFailure means the provider rejected the credential itself.
	// Non-retryable; rotation would not help a systemic auth problem.
	KindAuthFailure
	// KindTransient covers timeouts, transport errors and 5xx responses.
	// Worth a bounded retry on the same credential.
	KindTransient
	// KindFatal covers everything that retrying cannot fix.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthFailure:
		return "auth_failure"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int // 0 when no HTTP status was obtained
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func isKind(err error, kind Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool { return isKind(err, KindRateLimited) }

// IsAuthFailure reports whether err is a credential rejection.
func IsAuthFailure(err error) bool { return isKind(err, KindAuthFailure) }

// IsTransient reports whether err is worth a bounded same-credential retry.
func IsTransient(err error) bool { return isKind(err, KindTransient) }

// IsFatal reports whether err is non-retryable.
func IsFatal(err error) bool { return isKind(err, KindFatal) }

// classifyStatus maps an HTTP status from a remote authenticated provider
// to a failure kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthFailure
	case status == http.StatusRequestTimeout || status >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}
