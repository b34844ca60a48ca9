// Package errors provides the typed application error used across the service.
//
// Every error carries a Code. Callers branch on the code (errors.Is against the
// exported sentinels, or CodeOf) and the transport layers map codes to HTTP and
// gRPC statuses.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an application error.
type Code string

const (
	ErrCodeValidation         Code = "VALIDATION_ERROR"
	ErrCodeInvalidRange       Code = "INVALID_RANGE"
	ErrCodeOverlappingRange   Code = "OVERLAPPING_RANGE"
	ErrCodeIllegalTransition  Code = "ILLEGAL_TRANSITION"
	ErrCodeDuplicatePending   Code = "DUPLICATE_PENDING_REQUEST"
	ErrCodeAlreadyDecided     Code = "ALREADY_DECIDED"
	ErrCodeSelfApproval       Code = "SELF_APPROVAL"
	ErrCodeNotFound           Code = "NOT_FOUND"
	ErrCodeConflict           Code = "CONFLICT"
	ErrCodeUnauthorized       Code = "UNAUTHORIZED"
	ErrCodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	ErrCodeInternal           Code = "INTERNAL"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrValidation         = &Error{Code: ErrCodeValidation}
	ErrInvalidRange       = &Error{Code: ErrCodeInvalidRange}
	ErrOverlappingRange   = &Error{Code: ErrCodeOverlappingRange}
	ErrIllegalTransition  = &Error{Code: ErrCodeIllegalTransition}
	ErrDuplicatePending   = &Error{Code: ErrCodeDuplicatePending}
	ErrAlreadyDecided     = &Error{Code: ErrCodeAlreadyDecided}
	ErrSelfApproval       = &Error{Code: ErrCodeSelfApproval}
	ErrNotFound           = &Error{Code: ErrCodeNotFound}
	ErrConflict           = &Error{Code: ErrCodeConflict}
	ErrUnauthorized       = &Error{Code: ErrCodeUnauthorized}
	ErrStorageUnavailable = &Error{Code: ErrCodeStorageUnavailable}
)

// Error is the application error type.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message. A nil err yields nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource string, id any) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %v not found", resource, id)}
}

// InvalidInput reports a caller error on a single field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeValidation, Field: field, Message: message}
}

// IllegalTransition reports a state machine rule violation.
func IllegalTransition(entity string, from, to any) *Error {
	return &Error{
		Code:    ErrCodeIllegalTransition,
		Message: fmt.Sprintf("%s cannot move from %v to %v", entity, from, to),
	}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) Code {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Is and As re-export the standard library helpers so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
