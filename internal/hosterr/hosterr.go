// Package hosterr provides the host's standardized error taxonomy.
//
// Every operation that crosses a plugin-facing API boundary returns a
// Code instead of an arbitrary Go error, so callers (and the ABI
// shim) can map failures onto the stable DataStoreReturnCode values
// plugins are written against. Error is still a Go error so it
// composes with errors.Is/errors.As and ordinary error handling
// internal to the host.
package hosterr

import "fmt"

// Code is the DataStoreReturnCode taxonomy.
type Code string

const (
	Ok                Code = "OK"
	NotAuthenticated  Code = "NOT_AUTHENTICATED"
	AlreadyExists     Code = "ALREADY_EXISTS"
	DoesNotExist      Code = "DOES_NOT_EXIST"
	TypeMismatch      Code = "TYPE_MISMATCH"
	NotImplemented    Code = "NOT_IMPLEMENTED"
	ParameterCorrupted Code = "PARAMETER_CORRUPTED"
	DataCorrupted     Code = "DATA_CORRUPTED"
	HandleNullPtr     Code = "HANDLE_NULL_PTR"
)

// Error is a standardized host error carrying a machine-readable Code.
type Error struct {
	Code    Code
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches an underlying error as Details.
func Wrap(code Code, message string, err error) *Error {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &Error{Code: code, Message: message, Details: details}
}

// CodeOf extracts the Code from err, or Ok if err is nil, or
// DataCorrupted if err is not a *Error (an unexpected internal error
// reaching an ABI boundary).
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	if he, ok := err.(*Error); ok {
		return he.Code
	}
	return DataCorrupted
}

func NotAuthenticatedf(format string, args ...any) *Error {
	return New(NotAuthenticated, fmt.Sprintf(format, args...))
}

func AlreadyExistsf(format string, args ...any) *Error {
	return New(AlreadyExists, fmt.Sprintf(format, args...))
}

func DoesNotExistf(format string, args ...any) *Error {
	return New(DoesNotExist, fmt.Sprintf(format, args...))
}

func TypeMismatchf(format string, args ...any) *Error {
	return New(TypeMismatch, fmt.Sprintf(format, args...))
}

func ParameterCorruptedf(format string, args ...any) *Error {
	return New(ParameterCorrupted, fmt.Sprintf(format, args...))
}

func DataCorruptedf(format string, args ...any) *Error {
	return New(DataCorrupted, fmt.Sprintf(format, args...))
}

func NotImplementedf(format string, args ...any) *Error {
	return New(NotImplemented, fmt.Sprintf(format, args...))
}
