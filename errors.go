package dianya

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure surfaced by the SDK.
type ErrorKind string

const (
	ErrorKindTransport         ErrorKind = "transport_error"
	ErrorKindRequest           ErrorKind = "request_error"
	ErrorKindServer            ErrorKind = "server_error"
	ErrorKindInvalidInput      ErrorKind = "invalid_input"
	ErrorKindInvalidResponse   ErrorKind = "invalid_response"
	ErrorKindInvalidCredential ErrorKind = "invalid_credential"
	ErrorKindInvalidKey        ErrorKind = "invalid_key"
	ErrorKindDecoding          ErrorKind = "decoding_error"
	ErrorKindOther             ErrorKind = "other"
)

func (k ErrorKind) String() string {
	return string(k)
}

type Error struct {
	Kind    ErrorKind
	Message string
	Code    *int
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("dianya: %s (code=%d): %s", e.Kind, *e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("dianya: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("dianya: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

func NewErrorWithCode(kind ErrorKind, message string, code int) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Code:    &code,
	}
}

func NewErrorWithCause(kind ErrorKind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of err. Errors not produced by this package
// resolve to ErrorKindOther.
func KindOf(err error) ErrorKind {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Kind
	}
	return ErrorKindOther
}

var (
	ErrStreamNotConnected = NewError(ErrorKindTransport, "stream is not connected")
	ErrStreamClosed       = NewError(ErrorKindTransport, "stream is closed")
	ErrStreamAlreadyOpen  = NewError(ErrorKindTransport, "stream is already connected")
	ErrSessionStreamOpen  = NewError(ErrorKindInvalidInput, "a stream is already open for this session")
)

// MapHTTPStatus maps a non-2xx HTTP status to a typed error.
func MapHTTPStatus(status int, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}

	var kind ErrorKind
	switch {
	case status == http.StatusUnauthorized:
		kind = ErrorKindInvalidCredential
	case status == http.StatusForbidden:
		kind = ErrorKindInvalidKey
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		kind = ErrorKindInvalidInput
	case status >= 500:
		kind = ErrorKindServer
	case status >= 400:
		kind = ErrorKindRequest
	default:
		kind = ErrorKindInvalidResponse
	}
	return NewErrorWithCode(kind, message, status)
}
