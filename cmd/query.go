// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/session"
	"dbwire/cli/internal/sqlclient"
)

var (
	queryLimit  int
	queryParams []string
	queryLabel  string
)

// queryCmd runs a query in a read-only transaction and prints the rows.
var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a query and print its rows",
	Long: `The query command runs a single query in a read-only transaction and prints
the resulting rows as a table. Rows are streamed from the server; --limit stops
reading after the given number of rows and releases the rest of the result.

Parameters are bound with --param name[:type]=value, which prepares the
statement first. Supported types: character, int4, int8, float8, bool, date, null.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		placeholders, params, err := parseParams(queryParams)
		if err != nil {
			return err
		}

		s, log, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		var fetched atomic.Int64
		var rows [][]string
		runner := txRunner{
			session: s,
			log:     log,
			opts:    sqlclient.TransactionOptions{Type: model.TransactionReadOnly, Label: queryLabel},
			retries: 3,
			backoff: 100 * time.Millisecond,
		}

		stop := startProgressArea(spinnerFrames, 120*time.Millisecond, func() string {
			return fmt.Sprintf("Fetched %d rows", fetched.Load())
		})
		err = runner.run(ctx, func(tx *sqlclient.Transaction) error {
			fetched.Store(0)
			rs, err := openResultSet(ctx, s, tx, args[0], placeholders, params)
			if err != nil {
				return err
			}
			defer rs.Close()
			rows, err = collectRows(rs, queryLimit, func() { fetched.Add(1) })
			return err
		})
		stop()
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			pterm.Println("(no rows)")
			return nil
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(tableData(rows)).Render(); err != nil {
			return err
		}
		pterm.Printf("(%d rows)\n", len(rows))
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Stop after this many rows (0 reads all)")
	queryCmd.Flags().StringArrayVar(&queryParams, "param", nil, "Bind a parameter: name[:type]=value")
	queryCmd.Flags().StringVar(&queryLabel, "label", "dbwire query", "Transaction label shown by the server")
	rootCmd.AddCommand(queryCmd)
}

// openResultSet runs sql directly, or prepares it when parameters are given.
func openResultSet(ctx context.Context, s *session.Session, tx *sqlclient.Transaction, sql string, placeholders []sqlclient.Placeholder, params []sqlclient.Parameter) (*sqlclient.ResultSet, error) {
	if len(params) == 0 {
		return await(ctx, s, tx.ExecuteQuery(ctx, sql))
	}
	ps, err := await(ctx, s, s.Client().Prepare(ctx, sql, placeholders...))
	if err != nil {
		return nil, err
	}
	defer ps.Close()
	return await(ctx, s, tx.ExecutePreparedQuery(ctx, ps, params...))
}

// collectRows reads up to limit rows from c; limit 0 reads all of them.
func collectRows(c typedCursor, limit int, onRow func()) ([][]string, error) {
	var rows [][]string
	for limit <= 0 || len(rows) < limit {
		ok, err := c.NextRow()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		row, err := readRow(c)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if onRow != nil {
			onRow()
		}
	}
	return rows, nil
}

// tableData pads rows to the widest one and prepends a positional header.
func tableData(rows [][]string) pterm.TableData {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	header := make([]string, width)
	for i := range header {
		header[i] = fmt.Sprintf("c%d", i+1)
	}
	data := pterm.TableData{header}
	for _, r := range rows {
		padded := make([]string, width)
		copy(padded, r)
		data = append(data, padded)
	}
	return data
}
