package domain

import (
	"errors"
	"fmt"
)

// Error codes surfaced to MCP clients.
const (
	EINVALIDINPUT       = "INVALID_INPUT"
	ELIBRARYNOTFOUND    = "LIBRARY_NOT_FOUND"
	EURLNOTALLOWED      = "URL_NOT_ALLOWED"
	EPAGENOTFOUND       = "PAGE_NOT_FOUND"
	EPAGEFETCHFAILED    = "PAGE_FETCH_FAILED"
	ELLMSTXTNOTFOUND    = "LLMS_TXT_NOT_FOUND"
	ELLMSTXTFETCHFAILED = "LLMS_TXT_FETCH_FAILED"
)

// Error is an expected failure with a code, a hint for the caller, and
// whether retrying the same request may succeed.
type Error struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Suggestion  string `json:"suggestion"`
	Recoverable bool   `json:"recoverable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Envelope wraps the error the way it is serialized to tool callers.
func (e *Error) Envelope() map[string]*Error {
	return map[string]*Error{"error": e}
}

// Errorf returns a non-recoverable Error with a formatted message.
func Errorf(code, suggestion, format string, args ...any) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: suggestion,
	}
}

// RecoverableErrorf is like Errorf but marks the error as recoverable.
func RecoverableErrorf(code, suggestion, format string, args ...any) *Error {
	e := Errorf(code, suggestion, format, args...)
	e.Recoverable = true
	return e
}

// ErrorCodeOf returns the code of err if it is (or wraps) an *Error,
// and an empty string otherwise.
func ErrorCodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
