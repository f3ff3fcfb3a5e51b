// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package model defines the request and response messages exchanged with the
// SQL service. Messages are encoded with protobuf wire primitives so they stay
// readable by any protobuf tooling, without depending on generated code.
//
// A Request carries exactly one operation. A Response carries either an error
// (status code and detail) or the result fields relevant to the operation that
// produced it; fields not relevant to the operation are zero.
package model

import "fmt"

// ServiceSQL is the service id of the SQL service.
const ServiceSQL uint32 = 3

// Op identifies the operation carried by a Request. The value is the protobuf
// field number of the operation inside the request message.
type Op int

const (
	OpBegin                    Op = 1
	OpCommit                   Op = 2
	OpRollback                 Op = 3
	OpPrepare                  Op = 4
	OpExecuteStatement         Op = 5
	OpExecuteQuery             Op = 6
	OpExecutePreparedStatement Op = 7
	OpExecutePreparedQuery     Op = 8
	OpDisposePreparedStatement Op = 9
	OpDisposeTransaction       Op = 10
	OpGetTransactionStatus     Op = 11
	OpGetTransactionErrorInfo  Op = 12
	OpGetLargeObjectData       Op = 13
)

func (o Op) String() string {
	switch o {
	case OpBegin:
		return "Begin"
	case OpCommit:
		return "Commit"
	case OpRollback:
		return "Rollback"
	case OpPrepare:
		return "Prepare"
	case OpExecuteStatement:
		return "ExecuteStatement"
	case OpExecuteQuery:
		return "ExecuteQuery"
	case OpExecutePreparedStatement:
		return "ExecutePreparedStatement"
	case OpExecutePreparedQuery:
		return "ExecutePreparedQuery"
	case OpDisposePreparedStatement:
		return "DisposePreparedStatement"
	case OpDisposeTransaction:
		return "DisposeTransaction"
	case OpGetTransactionStatus:
		return "GetTransactionStatus"
	case OpGetTransactionErrorInfo:
		return "GetTransactionErrorInfo"
	case OpGetLargeObjectData:
		return "GetLargeObjectData"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// TransactionType selects the concurrency control of a transaction.
type TransactionType int

const (
	TransactionShort TransactionType = iota
	TransactionLong
	TransactionReadOnly
)

func (t TransactionType) String() string {
	switch t {
	case TransactionShort:
		return "short"
	case TransactionLong:
		return "long"
	case TransactionReadOnly:
		return "read-only"
	}
	return fmt.Sprintf("TransactionType(%d)", int(t))
}

// CommitStatus is the durability level a commit waits for.
type CommitStatus int

const (
	CommitDefault CommitStatus = iota
	CommitAccepted
	CommitAvailable
	CommitStored
	CommitPropagated
)

// TransactionStatus is the server-side state of a transaction.
type TransactionStatus int

const (
	StatusUnspecified TransactionStatus = iota
	StatusRunning
	StatusCommitting
	StatusAvailable
	StatusStored
	StatusPropagated
	StatusAborting
	StatusAborted
	StatusUntracked
)

var statusNames = [...]string{
	StatusUnspecified: "UNSPECIFIED",
	StatusRunning:     "RUNNING",
	StatusCommitting:  "COMMITTING",
	StatusAvailable:   "AVAILABLE",
	StatusStored:      "STORED",
	StatusPropagated:  "PROPAGATED",
	StatusAborting:    "ABORTING",
	StatusAborted:     "ABORTED",
	StatusUntracked:   "UNTRACKED",
}

func (s TransactionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("TransactionStatus(%d)", int(s))
	}
	return statusNames[s]
}

// Terminal reports whether no further transition is possible.
func (s TransactionStatus) Terminal() bool {
	return s == StatusPropagated || s == StatusAborted
}

// CounterKind names a row counter reported by a statement.
type CounterKind int

const (
	CounterInsertedRows CounterKind = iota + 1
	CounterUpdatedRows
	CounterMergedRows
	CounterDeletedRows
)

// AtomType is the declared type of a placeholder.
type AtomType int

const (
	AtomBoolean AtomType = iota + 1
	AtomInt4
	AtomInt8
	AtomFloat4
	AtomFloat8
	AtomDecimal
	AtomCharacter
	AtomOctet
	AtomBit
	AtomDate
	AtomTimeOfDay
	AtomTimePoint
	AtomTimeOfDayWithTimeZone
	AtomTimePointWithTimeZone
	AtomDateTimeInterval
	AtomBlob
	AtomClob
)

// Placeholder declares a named parameter of a prepared statement.
type Placeholder struct {
	Name string
	Type AtomType
}

// Request is a single operation sent to the SQL service.
type Request struct {
	Op Op

	// Transaction is the server handle of the target transaction.
	Transaction uint64
	// Statement is the server handle of the target prepared statement.
	Statement uint64

	SQL          string
	Placeholders []Placeholder
	// Parameters holds one relation-encoded row; each column is a row value of
	// (placeholder name, value).
	Parameters []byte

	TransactionType TransactionType
	Label           string
	WritePreserve   []string

	CommitStatus CommitStatus
	AutoDispose  bool

	// Large object reference for OpGetLargeObjectData.
	Provider uint64
	ObjectID uint64
	Clob     bool
}

// Counter is a named row count.
type Counter struct {
	Kind  CounterKind
	Value int64
}

// Error is a structured error reported by the server.
type Error struct {
	Status uint32
	Detail string
}

// Response is the primary payload of a reply, or a secondary status.
type Response struct {
	Error *Error

	// Handle is the server handle created by Begin or Prepare.
	Handle        uint64
	TransactionID string

	Counters []Counter

	Status TransactionStatus
	// StatusMessage is the human readable detail of Status.
	StatusMessage string

	HasResultRecords bool

	// ErrorInfo is the recorded failure of an aborted transaction.
	ErrorInfo *Error

	// Path is set when a large object is available as a file readable by the
	// client, instead of through a sub-channel.
	Path string
}
