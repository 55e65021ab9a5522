package eventman

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	// Protocol Errors (from server error frames)
	ErrorUnknown ErrorCode = iota
	ErrorUnsupportedVersion
	ErrorUnauthorized
	ErrorBadRequest
	ErrorEventNotFound
	ErrorAccessDenied
	ErrorRateLimited
	ErrorInternalServer

	// Client-side Errors
	ErrorConnection
	ErrorDisconnected
	ErrorTimeout
	ErrorInvalidConfig
	ErrorNotConnected
	ErrorReconnectFailed
	ErrorSerialization
	ErrorValidation
	ErrorRejected
	ErrorInFlight
	ErrorNotInRoom
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorUnsupportedVersion:
		return "unsupported_version"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorEventNotFound:
		return "event_not_found"
	case ErrorAccessDenied:
		return "access_denied"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorInternalServer:
		return "internal_error"
	case ErrorConnection:
		return "connection_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorTimeout:
		return "timeout"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorReconnectFailed:
		return "reconnect_failed"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorValidation:
		return "validation_error"
	case ErrorRejected:
		return "rejected"
	case ErrorInFlight:
		return "in_flight"
	case ErrorNotInRoom:
		return "not_in_room"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ParseErrorCode converts a protocol error code string to ErrorCode.
func ParseErrorCode(code string) ErrorCode {
	switch code {
	case "unsupported_version":
		return ErrorUnsupportedVersion
	case "unauthorized", "authentication_error":
		return ErrorUnauthorized
	case "bad_request":
		return ErrorBadRequest
	case "event_not_found":
		return ErrorEventNotFound
	case "access_denied", "forbidden":
		return ErrorAccessDenied
	case "rate_limited":
		return ErrorRateLimited
	case "internal_error":
		return ErrorInternalServer
	default:
		return ErrorUnknown
	}
}

// Error is a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// FromProtocolError converts a protocol error frame to *Error.
func FromProtocolError(e *ProtocolError) *Error {
	if e == nil {
		return nil
	}
	return &Error{
		Code:    ParseErrorCode(e.Code),
		Message: e.Msg,
	}
}

// CodeOf returns the code of err, or ErrorUnknown when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorUnknown
}

// IsProtocolError checks if an error came from a server error frame.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code >= ErrorUnsupportedVersion && e.Code <= ErrorInternalServer
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	switch CodeOf(err) {
	case ErrorConnection, ErrorDisconnected, ErrorTimeout, ErrorNotConnected, ErrorReconnectFailed:
		return true
	}
	return false
}

// IsAuthError reports a rejected credential, during the handshake or later.
func IsAuthError(err error) bool {
	return err != nil && CodeOf(err) == ErrorUnauthorized
}

// IsValidationError reports input rejected locally before any network call.
func IsValidationError(err error) bool {
	return err != nil && CodeOf(err) == ErrorValidation
}

// IsRejected reports a negative acknowledgement from the server.
func IsRejected(err error) bool {
	return err != nil && CodeOf(err) == ErrorRejected
}

// rejection converts a negative ack into an error carrying the server's
// reason, or fallback when the server gave none.
func rejection(ack Ack, fallback string) error {
	msg := ack.Message
	if msg == "" {
		msg = fallback
	}
	return NewError(ErrorRejected, msg)
}
