package ocr

import (
	"errors"
	"fmt"
)

// ErrorCode classifies why a recognition attempt produced no text.
type ErrorCode int

const (
	// CodeUnrecognized means the engine ran but found no usable text.
	CodeUnrecognized ErrorCode = iota + 1
	// CodeNoCreate means the engine instance could not be created.
	CodeNoCreate
	// CodeNotAvailable means OCR is absent on this platform or configuration.
	CodeNotAvailable
)

func (c ErrorCode) String() string {
	switch c {
	case CodeUnrecognized:
		return "unrecognized"
	case CodeNoCreate:
		return "no-create"
	case CodeNotAvailable:
		return "not-available"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrUnrecognized = &Error{Code: CodeUnrecognized}
	ErrNoCreate     = &Error{Code: CodeNoCreate}
	ErrNotAvailable = &Error{Code: CodeNotAvailable}
)

// Error is a failed recognition attempt.
type Error struct {
	Code    ErrorCode
	Engine  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Engine != "" {
		msg = e.Engine + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return "ocr: " + msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or 0.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// Unrecognized reports that engine produced no usable text.
func Unrecognized(engine string, cause error) *Error {
	return &Error{
		Code:    CodeUnrecognized,
		Engine:  engine,
		Message: "no text recognized",
		Cause:   cause,
	}
}

// NoCreate reports that engine could not be instantiated.
func NoCreate(engine string, cause error) *Error {
	return &Error{
		Code:    CodeNoCreate,
		Engine:  engine,
		Message: "failed to create engine",
		Cause:   cause,
	}
}

// NotAvailable reports that engine cannot run in this configuration.
func NotAvailable(engine, reason string) *Error {
	return &Error{
		Code:    CodeNotAvailable,
		Engine:  engine,
		Message: reason,
	}
}
