package protocol

import "errors"

// Error codes replied to clients in the error envelope.
const (
	CodeUnauthorized = "unauthorized"
	CodeNotInRoom    = "not_in_room"
	CodeForbidden    = "forbidden"
	CodeValidation   = "validation"
	CodeNotFound     = "not_found"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal"
)

// Error is both a Go error and the wire body of an error envelope.
type Error struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestType string `json:"requestType,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func Unauthorized(msg string) *Error { return &Error{Code: CodeUnauthorized, Message: msg} }
func Forbidden(msg string) *Error    { return &Error{Code: CodeForbidden, Message: msg} }
func Validation(msg string) *Error   { return &Error{Code: CodeValidation, Message: msg} }
func NotFound(msg string) *Error     { return &Error{Code: CodeNotFound, Message: msg} }
func Internal(msg string) *Error     { return &Error{Code: CodeInternal, Message: msg} }

// RateLimited is returned when a connection exceeds its message budget.
func RateLimited() *Error {
	return &Error{Code: CodeRateLimited, Message: "too many messages"}
}

// NotInRoom is returned for room-scoped operations by non-members.
func NotInRoom() *Error {
	return &Error{Code: CodeNotInRoom, Message: "join a room first"}
}

// ErrorMessage builds the reply envelope for err in response to requestType.
// Errors outside the taxonomy are reported as internal without leaking detail.
func ErrorMessage(requestType string, err error) Message {
	var pe *Error
	if !errors.As(err, &pe) {
		pe = Internal("internal error")
	}
	body := *pe
	body.RequestType = requestType
	return Message{Type: TypeError, Error: &body}
}

// CodeOf returns the taxonomy code of err, or CodeInternal.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}
