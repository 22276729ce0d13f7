package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies relay failures.
type ErrorKind string

const (
	KindBadRequest       ErrorKind = "bad_request"
	KindForbidden        ErrorKind = "forbidden"
	KindRateLimited      ErrorKind = "rate_limited"
	KindQuotaExhausted   ErrorKind = "quota_exhausted"
	KindUpstreamFailure  ErrorKind = "upstream_failure"
	KindParseRecoverable ErrorKind = "parse_recoverable"
)

// RelayError is an error with a stable kind that maps onto an HTTP status.
type RelayError struct {
	Kind    ErrorKind
	Message string
	// UpstreamStatus is the status the provider answered with, if any.
	UpstreamStatus int
	Err            error
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status a relay response uses for this error.
func (e *RelayError) Status() int {
	return e.Kind.Status()
}

// Retryable reports whether retrying after a delay may succeed.
func (e *RelayError) Retryable() bool {
	return e.Kind == KindRateLimited
}

// Status returns the HTTP status for an error kind.
// Anything the client does not need to tell apart collapses to 500.
func (k ErrorKind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindQuotaExhausted:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage is the short human readable text shown for a kind.
func (k ErrorKind) UserMessage() string {
	switch k {
	case KindBadRequest:
		return "The request was incomplete or malformed."
	case KindForbidden:
		return "This assistant is not available for your organization."
	case KindRateLimited:
		return "Rate limits exceeded, please try again shortly."
	case KindQuotaExhausted:
		return "Usage quota exhausted, please add credits to continue."
	default:
		return "The assistant is unavailable right now."
	}
}

// NewBadRequest builds a BadRequest error.
func NewBadRequest(format string, args ...any) *RelayError {
	return &RelayError{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NewForbidden builds a Forbidden error.
func NewForbidden(reason string) *RelayError {
	return &RelayError{Kind: KindForbidden, Message: reason}
}

// NewRateLimited builds a RateLimited error.
func NewRateLimited(msg string) *RelayError {
	return &RelayError{Kind: KindRateLimited, Message: msg}
}

// NewUpstreamFailure wraps err as an UpstreamFailure.
func NewUpstreamFailure(msg string, err error) *RelayError {
	return &RelayError{Kind: KindUpstreamFailure, Message: msg, Err: err}
}

// FromUpstreamStatus maps a non-2xx provider status onto a relay error.
func FromUpstreamStatus(status int, detail string) *RelayError {
	e := &RelayError{UpstreamStatus: status, Message: detail}
	switch status {
	case http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case http.StatusPaymentRequired:
		e.Kind = KindQuotaExhausted
	default:
		e.Kind = KindUpstreamFailure
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("upstream returned status %d", status)
	}
	return e
}

// FromRelayStatus maps a status returned by the relay itself back onto a kind.
// It is the client-side inverse of ErrorKind.Status.
func FromRelayStatus(status int, msg string) *RelayError {
	e := &RelayError{UpstreamStatus: status, Message: msg}
	switch status {
	case http.StatusBadRequest:
		e.Kind = KindBadRequest
	case http.StatusForbidden:
		e.Kind = KindForbidden
	case http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case http.StatusPaymentRequired:
		e.Kind = KindQuotaExhausted
	default:
		e.Kind = KindUpstreamFailure
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// KindOf classifies any error. Unknown errors are upstream failures.
func KindOf(err error) ErrorKind {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUpstreamFailure
}

// AsRelayError returns err as a *RelayError, wrapping it if needed.
func AsRelayError(err error) *RelayError {
	var re *RelayError
	if errors.As(err, &re) {
		return re
	}
	return NewUpstreamFailure("request failed", err)
}

// ClientMessage is the error text safe to show to the caller. Upstream
// details are never forwarded.
func (e *RelayError) ClientMessage() string {
	switch e.Kind {
	case KindBadRequest, KindForbidden:
		if e.Message != "" {
			return e.Message
		}
	}
	return e.Kind.UserMessage()
}
