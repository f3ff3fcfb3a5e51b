// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package cmd provides the command-line interface for dbwire.
// It implements subcommands for configuring an endpoint, storing credentials,
// and running statements and queries against the remote SQL service using the
// Cobra CLI framework. Long-running calls show spinners on the terminal.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dbwire/cli/internal/diagnostic"
	"dbwire/cli/internal/errors"
	"dbwire/cli/internal/logging"
)

var (
	showVersion  bool
	endpointFlag string
	logLevelFlag string
	verbose      bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dbwire",
	Short: "dbwire CLI for a remote transactional SQL service",
	Long: `dbwire is a command-line client for a remote transactional SQL service.
It talks to the server over gRPC, runs statements and queries in transactions,
and releases every server-side handle it creates.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Printf("dbwire %s (%s)\n", Version, Commit)
			return nil
		}
		// If no flag is set, show help
		return cmd.Help()
	},
}

// Execute runs the CLI application.
// It executes the root command and handles any errors that occur during execution.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if isTransportFailure(err) {
			logging.PresentStreamError(err)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "❌ "+logging.PresentError("dbwire", err))
		if diagnostic.CodeOf(err) != diagnostic.Unknown {
			fmt.Fprintln(os.Stderr, "   "+logging.Hint(err))
		}
		os.Exit(1)
	}
}

// isTransportFailure reports whether err comes from the connection rather than
// from the statement.
func isTransportFailure(err error) bool {
	for _, k := range []errors.Kind{errors.Transport, errors.ResponseTimeout, errors.Unauthenticated, errors.BrokenResponse} {
		if errors.IsKind(err, k) {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show CLI version information")
	rootCmd.PersistentFlags().StringVarP(&endpointFlag, "endpoint", "e", "", "Endpoint to use instead of the configured one (grpc://host:port or grpcs://host)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
