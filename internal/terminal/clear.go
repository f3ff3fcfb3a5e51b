// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package terminal provides utilities for terminal operations such as clearing
// echoed prompts.
package terminal

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// DefaultWidth is assumed when the terminal size is unknown.
const DefaultWidth = 80

// Width returns the width of the terminal on fd, or DefaultWidth.
func Width(fd int) int {
	if width, _, err := term.GetSize(fd); err == nil && width > 0 {
		return width
	}
	return DefaultWidth
}

// LinesUsed returns how many lines textLength characters occupy at width,
// plus the empty line left by the Enter key.
func LinesUsed(textLength, width int) int {
	if width <= 0 {
		width = DefaultWidth
	}
	lines := (textLength + width - 1) / width
	if lines < 1 {
		lines = 1
	}
	return lines + 1
}

// Clear moves up over n lines on w, clearing each one.
func Clear(w io.Writer, n int) {
	for i := 0; i < n; i++ {
		fmt.Fprint(w, "\r\x1b[2K")
		if i < n-1 {
			fmt.Fprint(w, "\x1b[1A")
		}
	}
}

// ClearPreviousLines clears a prompt and the user's answer from stdout, so
// endpoints with inline tokens do not stay on screen.
func ClearPreviousLines(textLength int) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}
	Clear(os.Stdout, LinesUsed(textLength, Width(int(os.Stdout.Fd()))))
}
