// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	stderrors "errors"
	"fmt"

	"dbwire/cli/internal/diagnostic"
)

// PresentError formats an error for user display with masking. Client-side
// errors get their diagnostic code appended; server errors already carry it.
func PresentError(context string, err error) string {
	if err == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", context, Mask(err.Error()))
	var de *diagnostic.Error
	if code := diagnostic.CodeOf(err); code != diagnostic.Unknown && !stderrors.As(err, &de) {
		msg += " [" + code.String() + "]"
	}
	return msg
}

// Hint returns a one-line suggestion derived from the error's action.
func Hint(err error) string {
	switch diagnostic.ActionOf(err) {
	case diagnostic.RetryRequest:
		return "Please try the request again"
	case diagnostic.RetryTransaction:
		return "Please retry the whole transaction"
	case diagnostic.RetryConnection:
		return "Please check the endpoint with 'dbwire status' and reconnect"
	case diagnostic.Fatal:
		return "The session cannot continue; please start a new one"
	}
	return "Please check the statement and try again"
}
