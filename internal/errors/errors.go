// Package errors defines typed client-side errors with categories for reporting
// and programmatic matching. Every kind carries a diagnostic code, so callers can
// branch on timeouts, closed handles or cursor misuse the same way they branch on
// server errors.
//
// Errors of these kinds are produced locally: they are never sent to the server
// and never come back from it.
package errors

import (
	stderrors "errors"
	"fmt"

	"dbwire/cli/internal/diagnostic"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// Transport indicates an I/O failure on the session transport.
	Transport Kind = "transport"
	// ResponseTimeout indicates a response did not arrive in time. The request may
	// still complete on the server.
	ResponseTimeout Kind = "response_timeout"
	// Canceled indicates the caller's context was canceled while waiting.
	Canceled Kind = "canceled"
	// BrokenResponse indicates a malformed or truncated response.
	BrokenResponse Kind = "broken_response"
	// AlreadyClosed indicates use of a closed handle, cursor or session.
	AlreadyClosed Kind = "already_closed"
	// NotReady indicates a cursor read outside a ready column.
	NotReady Kind = "not_ready"
	// TypeMismatch indicates a cursor accessor that does not match the value type.
	TypeMismatch Kind = "type_mismatch"
	// NullValue indicates a value fetch on a null column.
	NullValue Kind = "null_value"
	// Structure indicates unbalanced nested value frames.
	Structure Kind = "structure"
	// LargeObjectUnavailable indicates the server returned no channel or path
	// for a large object.
	LargeObjectUnavailable Kind = "large_object_unavailable"
	// SessionFatal indicates the session can no longer be used.
	SessionFatal Kind = "session_fatal"
	// Unauthenticated indicates missing or rejected credentials.
	Unauthenticated Kind = "unauthenticated"
)

// Code returns the diagnostic code for the kind.
func (k Kind) Code() diagnostic.Code {
	switch k {
	case Transport:
		return diagnostic.IOError
	case ResponseTimeout:
		return diagnostic.ResponseTimeout
	case Canceled:
		return diagnostic.RequestCanceled
	case BrokenResponse:
		return diagnostic.BrokenResponse
	case AlreadyClosed:
		return diagnostic.ResourceClosed
	case NotReady:
		return diagnostic.IllegalState
	case TypeMismatch:
		return diagnostic.TypeMismatch
	case NullValue:
		return diagnostic.NullValue
	case Structure:
		return diagnostic.StructureMismatch
	case LargeObjectUnavailable:
		return diagnostic.LargeObjectUnavailable
	case SessionFatal:
		return diagnostic.SessionFatal
	case Unauthenticated:
		return diagnostic.Unauthenticated
	}
	return diagnostic.Unknown
}

// Error lets a Kind be used as an errors.Is target.
func (k Kind) Error() string { return string(k) }

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error.
func (e *E) Unwrap() error { return e.Err }

// Is matches a Kind, or the diagnostic code or family of the kind.
func (e *E) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case diagnostic.Code:
		return e.Kind.Code() == t
	case diagnostic.Family:
		return e.Kind.Code().Family() == t
	}
	return false
}

// DiagnosticCode implements diagnostic.Coded.
func (e *E) DiagnosticCode() diagnostic.Code { return e.Kind.Code() }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err, or any error it wraps, is of kind k.
func IsKind(err error, k Kind) bool {
	return stderrors.Is(err, k)
}

// KindOf returns the kind of the first *E in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
