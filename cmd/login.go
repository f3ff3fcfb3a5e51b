// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"dbwire/cli/internal/auth"
	"dbwire/cli/internal/bridge/grpcclient"
	"dbwire/cli/internal/keychain"
)

var (
	loginToken   string
	loginAccount string
	loginTTL     time.Duration
)

// loginCmd stores an access token for the configured endpoint in the OS
// keychain. The token is sent as a bearer token by every later command.
var loginCmd = &cobra.Command{
	Use:     "login",
	Aliases: []string{"auth"},
	Short:   "Store an access token for the configured endpoint",
	Long: `The login command stores an access token for the configured endpoint in the
OS keychain. Without --token it prompts for the token without echoing it.

Tokens expire after --ttl; expired tokens are removed on next use and the
command must be run again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadRuntime()
		if err != nil {
			return err
		}
		ep, err := resolveEndpoint(cfg)
		if err != nil {
			return err
		}

		token := strings.TrimSpace(loginToken)
		if token == "" {
			token, err = promptToken("Access token: ")
			if err != nil {
				return err
			}
		}
		if token == "" {
			return errors.New("access token is required")
		}

		km, err := keychain.GetManager()
		if err != nil {
			return err
		}
		account := loginAccount
		if account == "" {
			account = ep.User
		}
		if err := auth.NewService(km).Login(account, credentialKey(ep), token, loginTTL); err != nil {
			return err
		}
		fmt.Printf("✅ Logged in to %s\n", credentialKey(ep))
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "Access token (prompted when omitted)")
	loginCmd.Flags().StringVar(&loginAccount, "account", "", "Account name to remember with the token")
	loginCmd.Flags().DurationVar(&loginTTL, "ttl", grpcclient.DefaultTokenTTL, "How long the token stays valid (0 never expires)")
	rootCmd.AddCommand(loginCmd)
}

// promptToken reads a token from the terminal without echo, or a line from
// stdin when it is not a terminal.
func promptToken(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print(prompt)
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
