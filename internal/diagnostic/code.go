// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package diagnostic defines the closed set of diagnostic codes used by the client
// runtime and the server, and the error type built from them.
//
// Every error returned by the runtime exposes a Code. Codes render in a stable
// structured form ("SQL-02002", "CLI-00002") and can be matched with errors.Is,
// either individually or by Family, without inspecting message text.
//
// Wire statuses reported by the server are translated with FromWire. The
// translation is a constant switch, so duplicate statuses are rejected by the
// compiler; unrecognized statuses map to Unknown and keep the raw value.
package diagnostic

import "fmt"

// Code is a diagnostic code.
type Code int

const (
	// Unknown is assigned to wire statuses the client does not recognize.
	Unknown Code = iota

	// client side codes

	IOError
	ResponseTimeout
	BrokenResponse
	ResourceClosed
	IllegalState
	TypeMismatch
	NullValue
	StructureMismatch
	LargeObjectUnavailable
	SessionFatal
	Unauthenticated
	RequestCanceled

	// server side codes

	SQLService
	InvalidRequest
	ServiceUnavailable
	SQLExecution
	ConstraintViolation
	UniqueConstraintViolation
	NotNullConstraintViolation
	ReferentialIntegrityConstraintViolation
	CheckConstraintViolation
	Evaluation
	ValueEvaluation
	ScalarSubqueryEvaluation
	TargetNotFound
	TargetAlreadyExists
	InconsistentStatement
	RestrictedOperation
	DependenciesViolation
	WriteOperationByRTX
	LTXWriteOperationWithoutWritePreserve
	ReadOperationOnRestrictedReadArea
	InactiveTransaction
	ParameterApplication
	UnresolvedPlaceholder
	LoadFile
	LoadFileNotFound
	LoadFileFormat
	DumpFile
	DumpDirectoryInaccessible
	TransactionNotFound
	StatementNotFound
	Compile
	Syntax
	Analyze
	TypeAnalyze
	SymbolAnalyze
	ValueAnalyze
	UnsupportedCompilerFeature
	UnsupportedRuntimeFeature
	ConcurrencyControl
	OCC
	OCCRead
	OCCWrite
	ConflictOnWritePreserve
	LTX
	LTXRead
	LTXWrite
	RTX
	BlockedByConcurrentOperation
	SQLLimitReached
	TransactionExceededLimit
	LargeObjectLimitReached
	Internal
	DataCorruption
	SecondaryIndexCorruption
	RequestFailure

	numCodes
)

// Prefixes of the structured form.
const (
	ClientPrefix = "CLI"
	ServerPrefix = "SQL"
)

type codeInfo struct {
	prefix string
	number int
	name   string
	family Family
	action Action
	// wire is the status the server uses for the code; client codes have none.
	wire    uint32
	hasWire bool
}

func cli(number int, name string, family Family, action Action) codeInfo {
	return codeInfo{prefix: ClientPrefix, number: number, name: name, family: family, action: action}
}

func sql(number int, name string, family Family, action Action, wire uint32) codeInfo {
	return codeInfo{prefix: ServerPrefix, number: number, name: name, family: family, action: action, wire: wire, hasWire: true}
}

var table = [numCodes]codeInfo{
	Unknown: sql(0, "UNKNOWN", FamilyUnknown, NoRetry, 0),

	IOError:                cli(1, "IO_ERROR", FamilyClient, RetryConnection),
	ResponseTimeout:        cli(2, "RESPONSE_TIMEOUT", FamilyClient, RetryRequest),
	BrokenResponse:         cli(3, "BROKEN_RESPONSE", FamilyClient, NoRetry),
	ResourceClosed:         cli(4, "RESOURCE_CLOSED", FamilyClient, NoRetry),
	IllegalState:           cli(5, "ILLEGAL_STATE", FamilyClient, NoRetry),
	TypeMismatch:           cli(6, "TYPE_MISMATCH", FamilyClient, NoRetry),
	NullValue:              cli(7, "NULL_VALUE", FamilyClient, NoRetry),
	StructureMismatch:      cli(8, "STRUCTURE_MISMATCH", FamilyClient, NoRetry),
	LargeObjectUnavailable: cli(9, "LARGE_OBJECT_UNAVAILABLE", FamilyClient, NoRetry),
	SessionFatal:           cli(10, "SESSION_FATAL", FamilyClient, Fatal),
	Unauthenticated:        cli(11, "UNAUTHENTICATED", FamilyClient, RetryConnection),
	RequestCanceled:        cli(12, "REQUEST_CANCELED", FamilyClient, RetryRequest),

	SQLService:         sql(1000, "SQL_SERVICE_EXCEPTION", FamilyRequest, NoRetry, 1),
	InvalidRequest:     sql(1001, "INVALID_REQUEST", FamilyRequest, NoRetry, 2),
	ServiceUnavailable: sql(1002, "SERVICE_UNAVAILABLE", FamilyRequest, RetryConnection, 3),

	SQLExecution:                            sql(2000, "SQL_EXECUTION_EXCEPTION", FamilyEvaluation, NoRetry, 10),
	ConstraintViolation:                     sql(2001, "CONSTRAINT_VIOLATION_EXCEPTION", FamilyConstraint, NoRetry, 11),
	UniqueConstraintViolation:               sql(2002, "UNIQUE_CONSTRAINT_VIOLATION_EXCEPTION", FamilyConstraint, NoRetry, 12),
	NotNullConstraintViolation:              sql(2003, "NOT_NULL_CONSTRAINT_VIOLATION_EXCEPTION", FamilyConstraint, NoRetry, 13),
	ReferentialIntegrityConstraintViolation: sql(2004, "REFERENTIAL_INTEGRITY_CONSTRAINT_VIOLATION_EXCEPTION", FamilyConstraint, NoRetry, 14),
	CheckConstraintViolation:                sql(2005, "CHECK_CONSTRAINT_VIOLATION_EXCEPTION", FamilyConstraint, NoRetry, 15),
	Evaluation:                              sql(2010, "EVALUATION_EXCEPTION", FamilyEvaluation, NoRetry, 16),
	ValueEvaluation:                         sql(2011, "VALUE_EVALUATION_EXCEPTION", FamilyEvaluation, NoRetry, 17),
	ScalarSubqueryEvaluation:                sql(2012, "SCALAR_SUBQUERY_EVALUATION_EXCEPTION", FamilyEvaluation, NoRetry, 18),
	TargetNotFound:                          sql(2014, "TARGET_NOT_FOUND_EXCEPTION", FamilyTarget, NoRetry, 19),
	TargetAlreadyExists:                     sql(2016, "TARGET_ALREADY_EXISTS_EXCEPTION", FamilyTarget, NoRetry, 20),
	InconsistentStatement:                   sql(2018, "INCONSISTENT_STATEMENT_EXCEPTION", FamilyEvaluation, NoRetry, 21),
	RestrictedOperation:                     sql(2020, "RESTRICTED_OPERATION_EXCEPTION", FamilyTarget, NoRetry, 22),
	DependenciesViolation:                   sql(2021, "DEPENDENCIES_VIOLATION_EXCEPTION", FamilyTarget, NoRetry, 23),
	WriteOperationByRTX:                     sql(2022, "WRITE_OPERATION_BY_RTX_EXCEPTION", FamilyTarget, NoRetry, 24),
	LTXWriteOperationWithoutWritePreserve:   sql(2023, "LTX_WRITE_OPERATION_WITHOUT_WRITE_PRESERVE_EXCEPTION", FamilyTarget, NoRetry, 25),
	ReadOperationOnRestrictedReadArea:       sql(2024, "READ_OPERATION_ON_RESTRICTED_READ_AREA_EXCEPTION", FamilyTarget, NoRetry, 26),
	InactiveTransaction:                     sql(2025, "INACTIVE_TRANSACTION_EXCEPTION", FamilyTarget, NoRetry, 27),
	ParameterApplication:                    sql(2027, "PARAMETER_APPLICATION_EXCEPTION", FamilyEvaluation, NoRetry, 28),
	UnresolvedPlaceholder:                   sql(2028, "UNRESOLVED_PLACEHOLDER_EXCEPTION", FamilyEvaluation, NoRetry, 29),
	LoadFile:                                sql(2030, "LOAD_FILE_EXCEPTION", FamilyEvaluation, NoRetry, 30),
	LoadFileNotFound:                        sql(2031, "LOAD_FILE_NOT_FOUND_EXCEPTION", FamilyEvaluation, NoRetry, 31),
	LoadFileFormat:                          sql(2032, "LOAD_FILE_FORMAT_EXCEPTION", FamilyEvaluation, NoRetry, 32),
	DumpFile:                                sql(2033, "DUMP_FILE_EXCEPTION", FamilyEvaluation, NoRetry, 33),
	DumpDirectoryInaccessible:               sql(2034, "DUMP_DIRECTORY_INACCESSIBLE_EXCEPTION", FamilyEvaluation, NoRetry, 34),
	TransactionNotFound:                     sql(2040, "TRANSACTION_NOT_FOUND_EXCEPTION", FamilyTarget, NoRetry, 35),
	StatementNotFound:                       sql(2041, "STATEMENT_NOT_FOUND_EXCEPTION", FamilyTarget, NoRetry, 36),

	Compile:                    sql(3000, "COMPILE_EXCEPTION", FamilyCompile, NoRetry, 40),
	Syntax:                     sql(3001, "SYNTAX_EXCEPTION", FamilyCompile, NoRetry, 41),
	Analyze:                    sql(3002, "ANALYZE_EXCEPTION", FamilyCompile, NoRetry, 42),
	TypeAnalyze:                sql(3003, "TYPE_ANALYZE_EXCEPTION", FamilyCompile, NoRetry, 43),
	SymbolAnalyze:              sql(3004, "SYMBOL_ANALYZE_EXCEPTION", FamilyCompile, NoRetry, 44),
	ValueAnalyze:               sql(3005, "VALUE_ANALYZE_EXCEPTION", FamilyCompile, NoRetry, 45),
	UnsupportedCompilerFeature: sql(3010, "UNSUPPORTED_COMPILER_FEATURE_EXCEPTION", FamilyCompile, NoRetry, 46),
	UnsupportedRuntimeFeature:  sql(3011, "UNSUPPORTED_RUNTIME_FEATURE_EXCEPTION", FamilyCompile, NoRetry, 47),

	ConcurrencyControl:           sql(4000, "CC_EXCEPTION", FamilyConcurrency, RetryTransaction, 50),
	OCC:                          sql(4001, "OCC_EXCEPTION", FamilyConcurrency, RetryTransaction, 51),
	OCCRead:                      sql(4010, "OCC_READ_EXCEPTION", FamilyConcurrency, RetryTransaction, 52),
	OCCWrite:                     sql(4011, "OCC_WRITE_EXCEPTION", FamilyConcurrency, RetryTransaction, 53),
	ConflictOnWritePreserve:      sql(4015, "CONFLICT_ON_WRITE_PRESERVE_EXCEPTION", FamilyConcurrency, RetryTransaction, 54),
	LTX:                          sql(4003, "LTX_EXCEPTION", FamilyConcurrency, RetryTransaction, 55),
	LTXRead:                      sql(4013, "LTX_READ_EXCEPTION", FamilyConcurrency, RetryTransaction, 56),
	LTXWrite:                     sql(4014, "LTX_WRITE_EXCEPTION", FamilyConcurrency, RetryTransaction, 57),
	RTX:                          sql(4005, "RTX_EXCEPTION", FamilyConcurrency, RetryTransaction, 58),
	BlockedByConcurrentOperation: sql(4007, "BLOCKED_BY_CONCURRENT_OPERATION_EXCEPTION", FamilyConcurrency, RetryTransaction, 59),

	SQLLimitReached:          sql(6000, "SQL_LIMIT_REACHED_EXCEPTION", FamilyResourceLimit, NoRetry, 60),
	TransactionExceededLimit: sql(6001, "TRANSACTION_EXCEEDED_LIMIT_EXCEPTION", FamilyResourceLimit, RetryTransaction, 61),
	LargeObjectLimitReached:  sql(6002, "LARGE_OBJECT_LIMIT_REACHED_EXCEPTION", FamilyResourceLimit, NoRetry, 62),

	Internal:                 sql(5000, "INTERNAL_EXCEPTION", FamilyInternal, Fatal, 70),
	DataCorruption:           sql(5001, "DATA_CORRUPTION_EXCEPTION", FamilyInternal, Fatal, 71),
	SecondaryIndexCorruption: sql(5002, "SECONDARY_INDEX_CORRUPTION_EXCEPTION", FamilyInternal, Fatal, 72),
	RequestFailure:           sql(5003, "REQUEST_FAILURE_EXCEPTION", FamilyInternal, NoRetry, 73),
}

// FromWireStatus returns the code for a wire status. The second result is false
// for statuses the client does not know; the returned code is then Unknown.
func FromWireStatus(status uint32) (Code, bool) {
	switch status {
	case 0:
		return Unknown, true
	case 1:
		return SQLService, true
	case 2:
		return InvalidRequest, true
	case 3:
		return ServiceUnavailable, true
	case 10:
		return SQLExecution, true
	case 11:
		return ConstraintViolation, true
	case 12:
		return UniqueConstraintViolation, true
	case 13:
		return NotNullConstraintViolation, true
	case 14:
		return ReferentialIntegrityConstraintViolation, true
	case 15:
		return CheckConstraintViolation, true
	case 16:
		return Evaluation, true
	case 17:
		return ValueEvaluation, true
	case 18:
		return ScalarSubqueryEvaluation, true
	case 19:
		return TargetNotFound, true
	case 20:
		return TargetAlreadyExists, true
	case 21:
		return InconsistentStatement, true
	case 22:
		return RestrictedOperation, true
	case 23:
		return DependenciesViolation, true
	case 24:
		return WriteOperationByRTX, true
	case 25:
		return LTXWriteOperationWithoutWritePreserve, true
	case 26:
		return ReadOperationOnRestrictedReadArea, true
	case 27:
		return InactiveTransaction, true
	case 28:
		return ParameterApplication, true
	case 29:
		return UnresolvedPlaceholder, true
	case 30:
		return LoadFile, true
	case 31:
		return LoadFileNotFound, true
	case 32:
		return LoadFileFormat, true
	case 33:
		return DumpFile, true
	case 34:
		return DumpDirectoryInaccessible, true
	case 35:
		return TransactionNotFound, true
	case 36:
		return StatementNotFound, true
	case 40:
		return Compile, true
	case 41:
		return Syntax, true
	case 42:
		return Analyze, true
	case 43:
		return TypeAnalyze, true
	case 44:
		return SymbolAnalyze, true
	case 45:
		return ValueAnalyze, true
	case 46:
		return UnsupportedCompilerFeature, true
	case 47:
		return UnsupportedRuntimeFeature, true
	case 50:
		return ConcurrencyControl, true
	case 51:
		return OCC, true
	case 52:
		return OCCRead, true
	case 53:
		return OCCWrite, true
	case 54:
		return ConflictOnWritePreserve, true
	case 55:
		return LTX, true
	case 56:
		return LTXRead, true
	case 57:
		return LTXWrite, true
	case 58:
		return RTX, true
	case 59:
		return BlockedByConcurrentOperation, true
	case 60:
		return SQLLimitReached, true
	case 61:
		return TransactionExceededLimit, true
	case 62:
		return LargeObjectLimitReached, true
	case 70:
		return Internal, true
	case 71:
		return DataCorruption, true
	case 72:
		return SecondaryIndexCorruption, true
	case 73:
		return RequestFailure, true
	default:
		return Unknown, false
	}
}

// Codes returns every defined code in declaration order.
func Codes() []Code {
	codes := make([]Code, 0, numCodes)
	for c := Unknown; c < numCodes; c++ {
		codes = append(codes, c)
	}
	return codes
}

func (c Code) info() codeInfo {
	if c < 0 || c >= numCodes {
		return table[Unknown]
	}
	return table[c]
}

// Valid reports whether c is one of the defined codes.
func (c Code) Valid() bool { return c >= 0 && c < numCodes }

// Prefix returns the structured form prefix, e.g. "SQL".
func (c Code) Prefix() string { return c.info().prefix }

// Number returns the numeric part of the structured form.
func (c Code) Number() int { return c.info().number }

// Name returns the symbolic name, e.g. "UNIQUE_CONSTRAINT_VIOLATION_EXCEPTION".
func (c Code) Name() string { return c.info().name }

// Family returns the family the code belongs to.
func (c Code) Family() Family { return c.info().family }

// Action returns the suggested client action for the code.
func (c Code) Action() Action { return c.info().action }

// WireStatus returns the wire status for server codes.
func (c Code) WireStatus() (uint32, bool) {
	i := c.info()
	return i.wire, i.hasWire
}

// Structured returns "<PREFIX>-<5 digit number>".
func (c Code) Structured() string {
	i := c.info()
	return fmt.Sprintf("%s-%05d", i.prefix, i.number)
}

// String implements fmt.Stringer.
func (c Code) String() string { return c.Structured() }

// Error lets a Code be used as an errors.Is target.
func (c Code) Error() string { return c.Structured() + " (" + c.Name() + ")" }

// DiagnosticCode returns c, so a bare Code satisfies Coded.
func (c Code) DiagnosticCode() Code { return c }

// Validate checks the code table: every code is named, structured forms are
// unique, and every server code round-trips through FromWireStatus.
func Validate() error {
	seen := make(map[string]Code, numCodes)
	wires := make(map[uint32]Code, numCodes)
	for _, c := range Codes() {
		i := table[c]
		if i.name == "" || i.prefix == "" {
			return fmt.Errorf("diagnostic: code %d has no table entry", int(c))
		}
		s := c.Structured()
		if prev, ok := seen[s]; ok {
			return fmt.Errorf("diagnostic: %s used by %s and %s", s, prev.Name(), c.Name())
		}
		seen[s] = c
		if !i.hasWire {
			continue
		}
		if prev, ok := wires[i.wire]; ok {
			return fmt.Errorf("diagnostic: wire status %d used by %s and %s", i.wire, prev.Name(), c.Name())
		}
		wires[i.wire] = c
		if got, ok := FromWireStatus(i.wire); !ok || got != c {
			return fmt.Errorf("diagnostic: wire status %d maps to %s, want %s", i.wire, got.Name(), c.Name())
		}
	}
	return nil
}
