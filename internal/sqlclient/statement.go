// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlclient

import "dbwire/cli/internal/disposer"

// PreparedStatement is a compiled statement held by the server.
type PreparedStatement struct {
	resource
	sql              string
	placeholders     []Placeholder
	hasResultRecords bool
}

func newPreparedStatement(c *Client, handle uint64, sql string, placeholders []Placeholder, hasRecords bool) *PreparedStatement {
	ps := &PreparedStatement{sql: sql, placeholders: placeholders, hasResultRecords: hasRecords}
	ps.init(c, disposer.PreparedStatement, handle)
	return ps
}

// SQL returns the statement text.
func (ps *PreparedStatement) SQL() string { return ps.sql }

// Placeholders returns the declared placeholders.
func (ps *PreparedStatement) Placeholders() []Placeholder { return ps.placeholders }

// HasResultRecords reports whether the statement produces rows.
func (ps *PreparedStatement) HasResultRecords() bool { return ps.hasResultRecords }

// Close releases the statement. It is idempotent; registered callbacks run on
// every call.
func (ps *PreparedStatement) Close() error {
	return ps.close(ps)
}
