// Package errs carries the error codes shared by services and handlers.
// Services return coded errors; handlers turn them into JSON responses with
// Write. Uncoded errors are reported as internal without their text.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	InvalidArgument    Code = "invalid_argument"
	Unauthenticated    Code = "unauthenticated"
	PermissionDenied   Code = "permission_denied"
	NotFound           Code = "not_found"
	FailedPrecondition Code = "failed_precondition"
	ResourceExhausted  Code = "resource_exhausted" // rate or usage limit
	PaymentRequired    Code = "payment_required"   // plan does not cover the feature
	Unavailable        Code = "unavailable"        // upstream (AI, gateway, email) down
	Internal           Code = "internal"
)

var statusByCode = map[Code]int{
	InvalidArgument:    http.StatusBadRequest,
	Unauthenticated:    http.StatusUnauthorized,
	PermissionDenied:   http.StatusForbidden,
	NotFound:           http.StatusNotFound,
	FailedPrecondition: http.StatusConflict,
	ResourceExhausted:  http.StatusTooManyRequests,
	PaymentRequired:    http.StatusPaymentRequired,
	Unavailable:        http.StatusServiceUnavailable,
	Internal:           http.StatusInternalServerError,
}

const internalMessage = "internal error"

// Error is a coded error. Message is shown to clients; Err is kept for logs.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Err: cause}
}

func coded(err error) (*Error, bool) {
	var e *Error
	if err == nil || !errors.As(err, &e) || e == nil {
		return nil, false
	}
	return e, true
}

// CodeOf returns the first code in err's chain, or Internal.
func CodeOf(err error) Code {
	if e, ok := coded(err); ok && e.Code != "" {
		return e.Code
	}
	return Internal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	_, ok := coded(err)
	return ok && CodeOf(err) == code
}

// MessageOf returns the client-safe message. Uncoded errors may hold SQL or
// gateway text, so they collapse to "internal error".
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	if e, ok := coded(err); ok && e.Message != "" {
		return e.Message
	}
	return internalMessage
}

// HTTPStatus maps a code to its response status. Unknown codes are 500.
func HTTPStatus(code Code) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Body is the JSON error envelope.
type Body struct {
	Error string `json:"error"`
	Code  Code   `json:"code"`
}

func Write(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(code))
	_ = json.NewEncoder(w).Encode(Body{Error: MessageOf(err), Code: code})
}
