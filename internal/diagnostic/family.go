// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package diagnostic

// Family groups codes into the closed error hierarchy.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyClient
	FamilyRequest
	FamilyCompile
	FamilyConstraint
	FamilyEvaluation
	FamilyTarget
	FamilyConcurrency
	FamilyResourceLimit
	FamilyInternal
)

// Families returns every family.
func Families() []Family {
	return []Family{
		FamilyUnknown,
		FamilyClient,
		FamilyRequest,
		FamilyCompile,
		FamilyConstraint,
		FamilyEvaluation,
		FamilyTarget,
		FamilyConcurrency,
		FamilyResourceLimit,
		FamilyInternal,
	}
}

func (f Family) String() string {
	switch f {
	case FamilyUnknown:
		return "unknown"
	case FamilyClient:
		return "client"
	case FamilyRequest:
		return "request"
	case FamilyCompile:
		return "compile"
	case FamilyConstraint:
		return "constraint violation"
	case FamilyEvaluation:
		return "evaluation"
	case FamilyTarget:
		return "target state"
	case FamilyConcurrency:
		return "concurrency control"
	case FamilyResourceLimit:
		return "resource limit"
	case FamilyInternal:
		return "internal"
	}
	return "invalid"
}

// Error lets a Family be used as an errors.Is target.
func (f Family) Error() string { return f.String() + " error" }

// Action is the suggested action for a client receiving an error.
type Action int

const (
	// NoRetry means repeating the same request yields the same error.
	NoRetry Action = iota
	// RetryRequest means the request may be repeated as-is; the outcome of the
	// first attempt is unknown.
	RetryRequest
	// RetryTransaction means the whole transaction may be retried.
	RetryTransaction
	// RetryConnection means the session must be re-established first.
	RetryConnection
	// Fatal means the server or session is in a state the client cannot recover.
	Fatal
)

func (a Action) String() string {
	switch a {
	case NoRetry:
		return "no-retry"
	case RetryRequest:
		return "retry-request"
	case RetryTransaction:
		return "retry-transaction"
	case RetryConnection:
		return "retry-connection"
	case Fatal:
		return "fatal"
	}
	return "invalid"
}

// Recoverable reports whether the caller can recover locally, i.e. without
// tearing down the session.
func (a Action) Recoverable() bool {
	switch a {
	case NoRetry, RetryRequest, RetryTransaction:
		return true
	case RetryConnection, Fatal:
		return false
	}
	return false
}
