// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package bridge defines the transport boundary between the client and the SQL
// service. A Channel sends requests tagged with a service id and hands back a
// pending response; it can also open named sub-channels that carry streamed
// payloads such as result rows and large object data.
//
// The package keeps transports pluggable: the gRPC implementation lives in
// grpcclient and a scripted in-memory implementation for tests in bridgetest.
package bridge

import (
	"context"
	"io"

	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/future"
)

// Channel is a session transport. Implementations are safe for concurrent use.
type Channel interface {
	// Send transmits payload to the service and returns its pending reply. An
	// error is returned only when the request could not be sent at all; later
	// failures resolve the pending reply.
	Send(ctx context.Context, serviceID uint32, payload []byte) (*future.Raw, error)
	// OpenSubChannel opens the named byte stream announced by an earlier reply.
	OpenSubChannel(ctx context.Context, name string) (io.ReadCloser, error)
	// Close releases the transport. Pending replies resolve with an error.
	Close() error
}

// SendRequest marshals req and sends it to the SQL service.
func SendRequest(ctx context.Context, ch Channel, req *model.Request) (*future.Raw, error) {
	return ch.Send(ctx, model.ServiceSQL, req.Marshal())
}
