// Package apperr defines the error taxonomy shared by the storefront
// gateway: every failure that reaches a handler is classified into one of a
// small set of kinds which map onto a user-visible message and HTTP status.
package apperr

import (
	"github.com/go-faster/errors"
)

// Kind classifies an error by how the caller should react to it.
type Kind string

const (
	// KindNetwork is a connectivity failure talking to an upstream service.
	KindNetwork Kind = "network"
	// KindValidation is a business-rule rejection carrying a server message.
	KindValidation Kind = "validation"
	// KindAuth is a missing or expired session token.
	KindAuth Kind = "auth"
	// KindNotFound is a missing resource.
	KindNotFound Kind = "not_found"
)

// Error is a classified error. Message is safe to show to the end user.
type Error struct {
	Kind    Kind
	Message string

	// Status is the upstream HTTP status when the failure came from a
	// response, zero when no response was received.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Network wraps a transport failure.
func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Message: "network error", Err: err}
}

// Upstream wraps a server-side failure answered with the given status.
func Upstream(status int, err error) *Error {
	return &Error{Kind: KindNetwork, Message: "network error", Status: status, Err: err}
}

// Validation returns a rejection with the message supplied by the server.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Auth returns an authentication failure.
func Auth(msg string) *Error {
	return &Error{Kind: KindAuth, Message: msg}
}

// NotFound returns a missing-resource failure.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsTransport reports whether err is a network failure that never produced
// an upstream response.
func IsTransport(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNetwork && e.Status == 0
}

// MessageOf returns the user-facing message of a classified error, or
// fallback when err is not classified.
func MessageOf(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
