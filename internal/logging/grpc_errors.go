// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dbwire/cli/internal/diagnostic"
	"dbwire/cli/internal/errors"
)

// GRPCErrorType represents the category of a transport error
type GRPCErrorType int

const (
	GRPCErrorUnknown GRPCErrorType = iota
	GRPCErrorNetwork
	GRPCErrorAuth
	GRPCErrorTimeout
	GRPCErrorInternal
	GRPCErrorUnavailable
)

// ClassifyGRPCError categorizes err by its client error kind, then by its gRPC
// status code, then by its message.
func ClassifyGRPCError(err error) GRPCErrorType {
	if err == nil {
		return GRPCErrorUnknown
	}
	switch {
	case errors.IsKind(err, errors.Unauthenticated):
		return GRPCErrorAuth
	case errors.IsKind(err, errors.ResponseTimeout):
		return GRPCErrorTimeout
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable:
			return GRPCErrorUnavailable
		case codes.DeadlineExceeded:
			return GRPCErrorTimeout
		case codes.Unauthenticated, codes.PermissionDenied:
			return GRPCErrorAuth
		case codes.Internal, codes.DataLoss:
			return GRPCErrorInternal
		case codes.Canceled, codes.Aborted:
			return GRPCErrorNetwork
		}
	}
	return ParseGRPCError(err.Error())
}

// ParseGRPCError categorizes a gRPC error message
func ParseGRPCError(errMsg string) GRPCErrorType {
	lower := strings.ToLower(errMsg)

	// Check for specific error patterns
	if strings.Contains(lower, "rst_stream") || strings.Contains(lower, "connection reset") {
		return GRPCErrorNetwork
	}
	if strings.Contains(lower, "internal_error") {
		return GRPCErrorInternal
	}
	if strings.Contains(lower, "unavailable") || strings.Contains(lower, "service unavailable") {
		return GRPCErrorUnavailable
	}
	if strings.Contains(lower, "deadline") || strings.Contains(lower, "timeout") {
		return GRPCErrorTimeout
	}
	if strings.Contains(lower, "unauthenticated") || strings.Contains(lower, "unauthorized") {
		return GRPCErrorAuth
	}

	return GRPCErrorUnknown
}

// FormatStreamError formats a session transport error in a user-friendly way
func FormatStreamError(err error) string {
	errType := ClassifyGRPCError(err)

	var builder strings.Builder

	// Title
	builder.WriteString(pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint("Connection Lost"))
	builder.WriteString("\n\n")

	// User-friendly description
	switch errType {
	case GRPCErrorNetwork:
		builder.WriteString("The connection to the database server was interrupted unexpectedly.\n")
		builder.WriteString("This usually happens when:\n")
		builder.WriteString("  • Your network connection was disrupted\n")
		builder.WriteString("  • A firewall or proxy closed the connection\n")

	case GRPCErrorInternal:
		builder.WriteString("The database server reported an internal error.\n")
		builder.WriteString("This could mean:\n")
		builder.WriteString("  • The server encountered an unexpected issue\n")
		builder.WriteString("  • The server is being restarted\n")

	case GRPCErrorUnavailable:
		builder.WriteString("The database server is currently unavailable.\n")
		builder.WriteString("Possible reasons:\n")
		builder.WriteString("  • The endpoint is wrong or the server is down\n")
		builder.WriteString("  • The server is temporarily overloaded\n")

	case GRPCErrorTimeout:
		builder.WriteString("The database server did not answer in time.\n")
		builder.WriteString("This could be due to:\n")
		builder.WriteString("  • Slow or unstable network connection\n")
		builder.WriteString("  • A long-running statement on the server\n")

	case GRPCErrorAuth:
		builder.WriteString("Authentication with the database server failed.\n")
		builder.WriteString("To fix this:\n")
		builder.WriteString("  • Run 'dbwire login' to store a new token\n")
		builder.WriteString("  • Your token may have expired\n")

	default:
		builder.WriteString("The session was interrupted.\n")
	}

	if cause := NetworkCause(err); cause != "" && errType != GRPCErrorAuth {
		builder.WriteString("\n" + cause + "\n")
	}

	builder.WriteString("\n")

	// Action to take
	if errType == GRPCErrorAuth {
		builder.WriteString(pterm.NewStyle(pterm.FgYellow).Sprint("→ Please run 'dbwire login' and try again"))
	} else {
		builder.WriteString(pterm.NewStyle(pterm.FgYellow).Sprint("→ " + Hint(err)))
	}

	builder.WriteString("\n")

	// Technical details (optional, for debugging)
	if err != nil {
		builder.WriteString("\n")
		details := "Technical details: " + Mask(err.Error())
		if code := diagnostic.CodeOf(err); code != diagnostic.Unknown {
			details = fmt.Sprintf("Technical details [%s]: %s", code, Mask(err.Error()))
		}
		builder.WriteString(pterm.NewStyle(pterm.FgGray).Sprint(details))
	}

	return builder.String()
}

// PresentStreamError displays a formatted transport error
func PresentStreamError(err error) {
	fmt.Println()
	fmt.Println(FormatStreamError(err))
	fmt.Println()
}
