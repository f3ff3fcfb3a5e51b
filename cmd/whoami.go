// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dbwire/cli/internal/auth"
	"dbwire/cli/internal/keychain"
)

// whoamiCmd represents the whoami command for displaying current authentication state.
var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	Aliases: []string{"me"},
	Short:   "Show the stored account and token expiry",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		km, err := keychain.GetManager()
		if err != nil {
			return err
		}
		st, err := auth.NewService(km).WhoAmI()
		if err != nil || !st.LoggedIn {
			fmt.Println("🔒 You're not logged in yet!")
			fmt.Println("   Run 'dbwire login' to get started.")
			return nil
		}
		fmt.Println(describeState(st, time.Now()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

// describeState renders the stored authentication state.
func describeState(st auth.State, now time.Time) string {
	who := st.Account
	if who == "" {
		who = "(anonymous token)"
	}
	s := fmt.Sprintf("👤 Current user: %s @ %s", who, st.Endpoint)
	if !st.ExpiresAt.IsZero() {
		s += fmt.Sprintf(" (expires in %s)", st.ExpiresAt.Sub(now).Round(time.Second))
	}
	return s
}
