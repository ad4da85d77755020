package calendar

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies load failures.
type ErrorKind string

// Supported failure kinds.
const (
	KindUnknown               ErrorKind = "unknown"
	KindProtocolNotRegistered ErrorKind = "protocol_not_registered"
	KindMalformedIdentifier   ErrorKind = "malformed_identifier"
	KindNotFound              ErrorKind = "not_found"
	KindAccessDenied          ErrorKind = "access_denied"
	KindServerError           ErrorKind = "server_error"
	KindRateLimited           ErrorKind = "rate_limited"
	KindTimeout               ErrorKind = "timeout"
	KindMalformedJSON         ErrorKind = "malformed_json"
	KindMalformedPayload      ErrorKind = "malformed_payload"
	KindAmbiguousSelection    ErrorKind = "ambiguous_selection"
	KindSelectionNotFound     ErrorKind = "selection_not_found"
	KindIndexIntegrity        ErrorKind = "index_integrity"
	KindInsecureRedirect      ErrorKind = "insecure_redirect"
	KindSuspiciousRedirect    ErrorKind = "suspicious_redirect"
	KindTooManyRedirects      ErrorKind = "too_many_redirects"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrProtocolNotRegistered = &Error{Kind: KindProtocolNotRegistered}
	ErrMalformedIdentifier   = &Error{Kind: KindMalformedIdentifier}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrAccessDenied          = &Error{Kind: KindAccessDenied}
	ErrServerError           = &Error{Kind: KindServerError}
	ErrRateLimited           = &Error{Kind: KindRateLimited}
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrMalformedJSON         = &Error{Kind: KindMalformedJSON}
	ErrMalformedPayload      = &Error{Kind: KindMalformedPayload}
	ErrAmbiguousSelection    = &Error{Kind: KindAmbiguousSelection}
	ErrSelectionNotFound     = &Error{Kind: KindSelectionNotFound}
	ErrIndexIntegrity        = &Error{Kind: KindIndexIntegrity}
	ErrInsecureRedirect      = &Error{Kind: KindInsecureRedirect}
	ErrSuspiciousRedirect    = &Error{Kind: KindSuspiciousRedirect}
	ErrTooManyRedirects      = &Error{Kind: KindTooManyRedirects}
)

// Error is a classified load failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
	// ResetAt is set on rate-limit failures when the server reports it.
	ResetAt time.Time
}

// NewError builds a classified error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under kind with additional context.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf reports the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}
