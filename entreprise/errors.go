package entreprise

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the coarse error classification shared across sources and the
// document pipeline.
type Kind string

const (
	KindValidation      Kind = "VALIDATION_ERROR"
	KindAuth            Kind = "AUTH_ERROR"
	KindNotConfigured   Kind = "NOT_CONFIGURED"
	KindNotFound        Kind = "NOT_FOUND"
	KindRateLimited     Kind = "RATE_LIMITED"
	KindTimeout         Kind = "TIMEOUT"
	KindUpstream        Kind = "UPSTREAM_ERROR"
	KindInvalidArtifact Kind = "INVALID_ARTIFACT"
	KindDatabase        Kind = "DATABASE_ERROR"
)

// Error carries a taxonomy kind and the source it originated from. Pipeline
// code recovers these into envelope entries instead of propagating them.
type Error struct {
	Kind    Kind
	Source  Source
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Source != "":
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Source, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Source != "":
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Source, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, source Source, message string) *Error {
	return &Error{Kind: kind, Source: source, Message: message}
}

func WrapError(kind Kind, source Source, message string, err error) *Error {
	return &Error{Kind: kind, Source: source, Message: message, Err: err}
}

// KindOf classifies any error into the taxonomy. Context deadline and
// cancellation map to TIMEOUT, everything unrecognized to UPSTREAM_ERROR.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}

	return KindUpstream
}

// KindFromStatus maps an upstream HTTP status to an error kind.
func KindFromStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindUpstream
	}
}

// kindStatus maps taxonomy kinds to the HTTP status the API surface answers
// with when a kind escapes as a request-level failure.
var kindStatus = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindAuth:            http.StatusBadGateway,
	KindNotConfigured:   http.StatusServiceUnavailable,
	KindNotFound:        http.StatusNotFound,
	KindRateLimited:     http.StatusTooManyRequests,
	KindTimeout:         http.StatusGatewayTimeout,
	KindUpstream:        http.StatusBadGateway,
	KindInvalidArtifact: http.StatusUnprocessableEntity,
	KindDatabase:        http.StatusInternalServerError,
}

// StatusOf returns the HTTP status for an error's kind, defaulting to 500.
func StatusOf(err error) int {
	if status, ok := kindStatus[KindOf(err)]; ok {
		return status
	}

	return http.StatusInternalServerError
}

// toSourceError flattens any error into the envelope error shape.
func toSourceError(source Source, err error) SourceError {
	var e *Error
	if errors.As(err, &e) {
		return SourceError{Source: source, Kind: e.Kind, Message: e.Message}
	}

	return SourceError{Source: source, Kind: KindOf(err), Message: err.Error()}
}
