package auth

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrValidation      = errors.New("auth: invalid request")
	ErrInvalidToken    = errors.New("auth: invalid or expired token")
	ErrUpstream        = errors.New("auth: upstream unavailable")
	ErrProfileNotFound = errors.New("auth: profile not found")
)

// Kind classifies failures for status mapping and logging.
type Kind string

const (
	KindCredential    Kind = "credential"
	KindAuthorization Kind = "authorization"
	KindValidation    Kind = "validation"
	KindUpstream      Kind = "upstream"
	KindAuditWrite    Kind = "audit_write"
)

// Error is a classified failure. Reason is safe to return to callers; Err
// is for logs only.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Reason + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel corresponding to the error kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthenticated:
		return e.Kind == KindCredential || e.Kind == KindUpstream
	case ErrForbidden:
		return e.Kind == KindAuthorization
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrUpstream:
		return e.Kind == KindUpstream
	}
	return false
}

// HTTPStatus maps the kind to a response code. Upstream failures surface as
// 401 so the caller never sees an internal error from authentication.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindCredential, KindUpstream:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func CredentialError(reason string) *Error {
	return &Error{Kind: KindCredential, Reason: reason}
}

func AuthorizationError(reason string) *Error {
	return &Error{Kind: KindAuthorization, Reason: reason}
}

func ValidationError(reason string) *Error {
	return &Error{Kind: KindValidation, Reason: reason}
}

func UpstreamError(reason string, err error) *Error {
	return &Error{Kind: KindUpstream, Reason: reason, Err: err}
}

// StatusOf returns the HTTP status for err, or 0 when err is not classified.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return 0
}

// ReasonOf returns the caller-safe reason of a classified error.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
