// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"dbwire/cli/internal/auth"
	"dbwire/cli/internal/config"
	"dbwire/cli/internal/keychain"
	"dbwire/cli/internal/logging"
)

// statusCmd shows the configured endpoint, credentials and session settings.
var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"dbinfo"},
	Short:   "Show the configured endpoint and session settings",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadRuntime()
		if err != nil {
			return err
		}
		ep, err := resolveEndpoint(cfg)
		if errors.Is(err, errNoEndpoint) {
			pterm.Println("⚠️  No endpoint configured")
			pterm.Println("   Please run: dbwire connect")
			return nil
		}
		if err != nil {
			return err
		}

		pterm.DefaultBox.
			WithTitle(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("Endpoint")).
			WithPadding(1).
			Println(logging.Mask(ep.String()))
		pterm.Println()

		credentials := "none stored"
		if ep.Token != "" {
			credentials = "inline token"
		} else if km, err := keychain.GetManager(); err == nil {
			if _, err := auth.NewService(km).Token(credentialKey(ep)); err == nil {
				credentials = "token in OS keychain"
			}
		}
		return pterm.DefaultBulletList.WithItems(statusItems(cfg, credentials)).Render()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusItems(cfg config.Config, credentials string) []pterm.BulletListItem {
	line := func(format string, a ...any) pterm.BulletListItem {
		return pterm.BulletListItem{Level: 0, Text: fmt.Sprintf(format, a...)}
	}
	return []pterm.BulletListItem{
		line("Credentials: %s", credentials),
		line("Log level: %s", cfg.LogLevel),
		line("Request timeout: %s", cfg.Session.RequestTimeout()),
		line("Close timeout: %s", cfg.Session.CloseTimeout()),
		line("Shutdown timeout: %s", cfg.Session.ShutdownTimeout()),
		line("Disposal: %d attempts, %s each, %s apart",
			cfg.Disposal.MaxAttempts, cfg.Disposal.AttemptTimeout(), cfg.Disposal.RetryInterval()),
	}
}
