package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sells-group/invoice-cli/internal/resilience"
)

// ErrorKind classifies adapter failures so callers can pick a retry policy.
type ErrorKind string

// Error kinds.
const (
	KindConfiguration     ErrorKind = "CONFIGURATION_ERROR"
	KindNetwork           ErrorKind = "NETWORK_ERROR"
	KindTimeout           ErrorKind = "TIMEOUT"
	KindAuthentication    ErrorKind = "AUTHENTICATION_ERROR"
	KindQuotaExceeded     ErrorKind = "QUOTA_EXCEEDED"
	KindFileTooLarge      ErrorKind = "FILE_TOO_LARGE"
	KindUnsupportedFormat ErrorKind = "UNSUPPORTED_FORMAT"
	KindRateLimited       ErrorKind = "RATE_LIMIT_EXCEEDED"
	KindInvalidResponse   ErrorKind = "INVALID_RESPONSE"
	KindAPI               ErrorKind = "API_ERROR"
)

// Error is the failure returned by every adapter.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt could succeed without operator
// action. Authentication, configuration and input errors never are; API
// errors are only when the HTTP status is a transient server condition.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindQuotaExceeded, KindRateLimited, KindTimeout, KindNetwork:
		return true
	case KindAPI:
		return resilience.IsTransientHTTPStatus(e.StatusCode)
	default:
		return false
	}
}

// NewError builds an adapter error.
func NewError(kind ErrorKind, provider, message string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Err: err}
}

// FromHTTPStatus maps a non-2xx provider response onto the error taxonomy.
func FromHTTPStatus(provider string, status int, body string) *Error {
	kind := KindAPI
	switch status {
	case http.StatusUnauthorized:
		kind = KindAuthentication
	case http.StatusPaymentRequired:
		kind = KindQuotaExceeded
	case http.StatusRequestEntityTooLarge:
		kind = KindFileTooLarge
	case http.StatusUnsupportedMediaType:
		kind = KindUnsupportedFormat
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	}
	if len(body) > 300 {
		body = body[:300]
	}
	return &Error{Kind: kind, Provider: provider, StatusCode: status, Message: strings.TrimSpace(body)}
}

// KindOf returns the kind of the first adapter error in err's chain, or
// KindAPI when err carries none.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindAPI
}
