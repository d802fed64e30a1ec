// Package domainerrors defines the error codes shared by services and transports.
//
// Services return *Error values carrying a stable Code. Transports map the
// code to a status and a client-facing body; the wrapped cause is never sent
// to clients.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, client-visible error identifier.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation_error"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"

	// Automation gateway denials. Callers rely on these to tell
	// "not allowed" apart from "broken".
	CodeCatalogDenied        Code = "catalog_denied"
	CodePolicyDenied         Code = "policy_denied"
	CodeRoleDenied           Code = "role_denied"
	CodeInvalidPlan          Code = "invalid_plan"
	CodeInvalidEventType     Code = "invalid_event_type"
	CodeHandlerNotRegistered Code = "handler_not_registered"
	CodeExecutionInProgress  Code = "execution_in_progress"
)

// Error is a domain error with a code and a user-safe message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
// A nil err yields nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As extracts the outermost domain error from the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Is reports whether the outermost domain error in the chain carries code.
func Is(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// HasCode reports whether any domain error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost code, or CodeInternal for plain errors.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}
