// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/relation"
	"dbwire/cli/internal/session"
	"dbwire/cli/internal/sqlclient"
)

var lobOut string

// lobCmd saves the large object selected by a query to a file.
var lobCmd = &cobra.Command{
	Use:   "lob <sql>",
	Short: "Save a BLOB or CLOB selected by a query to a file",
	Long: `The lob command runs a query whose first column of the first row is a BLOB or
CLOB and copies the large object's contents to --out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if lobOut == "" {
			return errors.New("--out is required")
		}
		s, log, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		runner := txRunner{
			session: s,
			log:     log,
			opts:    sqlclient.TransactionOptions{Type: model.TransactionReadOnly, Label: "dbwire lob"},
			retries: 3,
			backoff: 100 * time.Millisecond,
		}
		stop := startInlineSpinner(os.Stderr, "copying large object", spinnerFrames, 100*time.Millisecond)
		err = runner.run(ctx, func(tx *sqlclient.Transaction) error {
			return copyLargeObject(ctx, s, tx, args[0], lobOut)
		})
		stop()
		if err != nil {
			return err
		}
		info, err := os.Stat(lobOut)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Saved %d bytes to %s\n", info.Size(), lobOut)
		return nil
	},
}

func init() {
	lobCmd.Flags().StringVarP(&lobOut, "out", "o", "", "Destination file")
	rootCmd.AddCommand(lobCmd)
}

func copyLargeObject(ctx context.Context, s *session.Session, tx *sqlclient.Transaction, sql, dest string) error {
	rs, err := await(ctx, s, tx.ExecuteQuery(ctx, sql))
	if err != nil {
		return err
	}
	defer rs.Close()

	ok, err := rs.NextRow()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("query returned no rows")
	}
	if ok, err = rs.NextColumn(); err != nil {
		return err
	}
	if !ok {
		return errors.New("query returned no columns")
	}
	t, err := rs.Type()
	if err != nil {
		return err
	}
	switch t {
	case relation.EntryBlob:
		ref, err := rs.FetchBlob()
		if err != nil {
			return err
		}
		return tx.CopyBlobTo(ctx, ref, dest)
	case relation.EntryClob:
		ref, err := rs.FetchClob()
		if err != nil {
			return err
		}
		return tx.CopyClobTo(ctx, ref, dest)
	}
	return fmt.Errorf("first column is %s, not a large object", t)
}
