// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// NetworkCause names the low-level reason a connection attempt failed, or
// returns "" when err carries none of the recognized causes.
func NetworkCause(err error) string {
	switch {
	case err == nil:
		return ""
	case isDNSError(err):
		return "The server address could not be resolved; check the host name and your DNS settings"
	case isConnectionRefusedError(err):
		return "The server refused the connection; check the port and that the service is running"
	case isTLSError(err):
		return "The secure connection failed; check the certificate, the scheme (grpc:// or grpcs://) and your system clock"
	case isTimeoutError(err):
		return "The connection timed out; a firewall or proxy may be dropping traffic"
	}
	return ""
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "i/o timeout")
}

func isDNSError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "no such host") || strings.Contains(lower, "name resolver")
}

func isConnectionRefusedError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

func isTLSError(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "tls") ||
		strings.Contains(lower, "x509") ||
		strings.Contains(lower, "certificate") ||
		strings.Contains(lower, "handshake")
}
