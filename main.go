// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package main is the entry point for the dbwire CLI application.
// It runs statements and queries against a remote transactional SQL service
// over gRPC.
package main

import (
	"dbwire/cli/cmd"
)

func main() {
	cmd.Execute()
}
