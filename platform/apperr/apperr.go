// Package apperr carries the error kinds that services return and that
// httpkit.HandleError turns into a status code and an envelope code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of an error; it decides the HTTP mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	// KindValidation is a well-formed request whose fields failed validation.
	KindValidation
	// KindBadRequest is a request that could not be read at all.
	KindBadRequest
	KindConflict
	KindForbidden
	KindUnauthorized
	KindInternal
	KindTooManyRequests
	// KindUnavailable means a dependency (store, queue) could not be reached.
	KindUnavailable
)

type kindInfo struct {
	status int
	code   string
}

var kinds = map[Kind]kindInfo{
	KindNotFound:        {http.StatusNotFound, "NOT_FOUND"},
	KindValidation:      {http.StatusBadRequest, "VALIDATION_ERROR"},
	KindBadRequest:      {http.StatusBadRequest, "INVALID_REQUEST"},
	KindConflict:        {http.StatusConflict, "CONFLICT"},
	KindForbidden:       {http.StatusForbidden, "FORBIDDEN"},
	KindUnauthorized:    {http.StatusUnauthorized, "UNAUTHORIZED"},
	KindInternal:        {http.StatusInternalServerError, "INTERNAL_ERROR"},
	KindTooManyRequests: {http.StatusTooManyRequests, "RATE_LIMITED"},
	KindUnavailable:     {http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
}

// Error is a domain error. Message is safe to show to clients; Err is not.
type Error struct {
	Kind    Kind
	Message string
	Op      string
	Err     error
	Details any
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus falls back to 500 for unknown kinds.
func (e *Error) HTTPStatus() int {
	if info, ok := kinds[e.Kind]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Code is the machine readable code in the error envelope.
func (e *Error) Code() string {
	if info, ok := kinds[e.Kind]; ok {
		return info.code
	}
	return "INTERNAL_ERROR"
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap keeps err for logs and errors.Is while clients only see message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithDetails attaches per-field validation output to the envelope.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func NotFound(message string) *Error        { return New(KindNotFound, message) }
func Validation(message string) *Error      { return New(KindValidation, message) }
func BadRequest(message string) *Error      { return New(KindBadRequest, message) }
func Conflict(message string) *Error        { return New(KindConflict, message) }
func Forbidden(message string) *Error       { return New(KindForbidden, message) }
func Unauthorized(message string) *Error    { return New(KindUnauthorized, message) }
func Internal(message string) *Error        { return New(KindInternal, message) }
func TooManyRequests(message string) *Error { return New(KindTooManyRequests, message) }

func Unavailable(message string, err error) *Error {
	return Wrap(KindUnavailable, message, err)
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
