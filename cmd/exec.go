// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/sqlclient"
)

var (
	execLabel   string
	execLong    []string
	execRetries int
)

// execCmd runs statements in a single transaction and reports the affected
// row counts.
var execCmd = &cobra.Command{
	Use:   "exec <sql>...",
	Short: "Execute statements in one transaction",
	Long: `The exec command begins a transaction, executes each statement in order and
commits. If any statement fails the transaction is rolled back. Transactions
aborted by a serialization conflict are retried up to --retries times.

Use --write-preserve to run a long transaction that declares the tables it
writes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, log, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		opts := sqlclient.TransactionOptions{Label: execLabel}
		if len(execLong) > 0 {
			opts.Type = model.TransactionLong
			opts.WritePreserve = execLong
		}
		runner := txRunner{session: s, log: log, opts: opts, retries: execRetries, backoff: 100 * time.Millisecond}

		ctx := cmd.Context()
		var results []sqlclient.ExecuteResult
		stop := startInlineSpinner(os.Stderr, "executing", spinnerFrames, 100*time.Millisecond)
		err = runner.run(ctx, func(tx *sqlclient.Transaction) error {
			results = results[:0]
			for _, sql := range args {
				res, err := await(ctx, s, tx.ExecuteStatement(ctx, sql))
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			return nil
		})
		stop()
		if err != nil {
			return err
		}

		data := pterm.TableData{{"#", "inserted", "updated", "merged", "deleted"}}
		for i, r := range results {
			data = append(data, []string{
				fmt.Sprint(i + 1),
				fmt.Sprint(r.Inserted()),
				fmt.Sprint(r.Updated()),
				fmt.Sprint(r.Merged()),
				fmt.Sprint(r.Deleted()),
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
		pterm.Println("✅ Committed")
		return nil
	},
}

func init() {
	execCmd.Flags().StringVar(&execLabel, "label", "dbwire exec", "Transaction label shown by the server")
	execCmd.Flags().StringSliceVar(&execLong, "write-preserve", nil, "Run a long transaction writing these tables")
	execCmd.Flags().IntVar(&execRetries, "retries", 3, "Retries after a serialization conflict")
	rootCmd.AddCommand(execCmd)
}
