// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"dbwire/cli/internal/diagnostic"
)

var codesFamily string

// codesCmd lists the diagnostic codes the client can report.
var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "List diagnostic codes and how to react to them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return pterm.DefaultTable.WithHasHeader().WithData(codesTable(codesFamily)).Render()
	},
}

func init() {
	codesCmd.Flags().StringVar(&codesFamily, "family", "", "Only list codes of this family")
	rootCmd.AddCommand(codesCmd)
}

// codesTable builds the code listing, optionally filtered by family name.
func codesTable(family string) pterm.TableData {
	data := pterm.TableData{{"code", "name", "family", "action", "wire status"}}
	for _, c := range diagnostic.Codes() {
		if family != "" && c.Family().String() != family {
			continue
		}
		wire := "-"
		if s, ok := c.WireStatus(); ok {
			wire = strconv.FormatUint(uint64(s), 10)
		}
		data = append(data, []string{c.Structured(), c.Name(), c.Family().String(), c.Action().String(), wire})
	}
	return data
}
