// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package diagnostic

import (
	"errors"
	"fmt"
)

// Coded is implemented by every error that carries a diagnostic code.
type Coded interface {
	error
	DiagnosticCode() Code
}

// Error is an error reported by the server, or built locally from a code.
type Error struct {
	Code    Code
	Message string
	// Status is the raw wire status, kept so Unknown errors can be diagnosed.
	Status    uint32
	HasStatus bool
	// RawCode is the undefined code an Unknown error was built from.
	RawCode    Code
	HasRawCode bool
	Cause      error
}

// Of builds an Error for code. It never fails: an undefined code becomes
// Unknown and is kept in RawCode.
func Of(code Code, message string, cause error) *Error {
	if !code.Valid() {
		return &Error{Code: Unknown, Message: message, RawCode: code, HasRawCode: true, Cause: cause}
	}
	e := &Error{Code: code, Message: message, Cause: cause}
	if status, ok := code.WireStatus(); ok {
		e.Status, e.HasStatus = status, true
	}
	return e
}

// FromWire builds an Error from a wire status and its detail text.
func FromWire(status uint32, message string) *Error {
	code, _ := FromWireStatus(status)
	e := Of(code, message, nil)
	e.Status, e.HasStatus = status, true
	return e
}

func (e *Error) Error() string {
	head := e.Code.Structured() + " (" + e.Code.Name() + ")"
	if e.Code == Unknown && e.HasStatus {
		head = fmt.Sprintf("%s status=%d", head, e.Status)
	}
	if e.HasRawCode {
		head = fmt.Sprintf("%s code=%d", head, int(e.RawCode))
	}
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", head, e.Message, e.Cause)
	case e.Message != "":
		return head + ": " + e.Message
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", head, e.Cause)
	}
	return head
}

// DiagnosticCode implements Coded.
func (e *Error) DiagnosticCode() Code { return e.Code }

// Family returns the family of the error code.
func (e *Error) Family() Family { return e.Code.Family() }

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches a Code or a Family target.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Code:
		return e.Code == t
	case Family:
		return e.Code.Family() == t
	}
	return false
}

// CodeOf returns the diagnostic code carried by err, or Unknown.
func CodeOf(err error) Code {
	var c Coded
	if errors.As(err, &c) {
		return c.DiagnosticCode()
	}
	return Unknown
}

// ActionOf returns the suggested action for err.
func ActionOf(err error) Action {
	return CodeOf(err).Action()
}
