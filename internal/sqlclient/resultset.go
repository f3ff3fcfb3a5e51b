// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlclient

import (
	"context"
	"io"
	"sync"

	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/errors"
	"dbwire/cli/internal/future"
	"dbwire/cli/internal/relation"
)

// ResultSet streams the rows of a query. It is a relation cursor over the
// query's sub-channel; reaching the end of the rows also collects the query's
// final status, so a failure reported after the last row is returned from
// NextRow. A ResultSet is not safe for concurrent use.
type ResultSet struct {
	*relation.StreamCursor

	client    *Client
	name      string
	stream    io.ReadCloser
	secondary *future.Raw

	mu        sync.Mutex
	closed    bool
	callbacks []func()
}

func (c *Client) resultSetDecoder(ctx context.Context) future.Decoder[*ResultSet] {
	ctx = context.WithoutCancel(ctx)
	return func(env *future.Envelope) (*ResultSet, error) {
		if _, err := model.Decode(env.Payload); err != nil {
			releaseSecondary(env)
			return nil, err
		}
		if env.SubChannel == "" {
			releaseSecondary(env)
			return nil, errors.New(errors.BrokenResponse, "query reply names no result channel")
		}
		stream, err := c.ch.OpenSubChannel(ctx, env.SubChannel)
		if err != nil {
			releaseSecondary(env)
			return nil, err
		}
		rs := &ResultSet{client: c, name: env.SubChannel, stream: stream, secondary: env.ClaimSecondary()}
		rs.StreamCursor = relation.NewStreamCursor(stream, relation.WithEndHook(rs.finish))
		c.track(rs, rs.Close)
		return rs, nil
	}
}

func releaseSecondary(env *future.Envelope) {
	if sec := env.ClaimSecondary(); sec != nil {
		_ = sec.Close()
	}
}

// Name returns the name of the sub-channel carrying the rows.
func (rs *ResultSet) Name() string { return rs.name }

// finish runs when the rows are exhausted: it releases the sub-channel and
// surfaces the final status.
func (rs *ResultSet) finish() error {
	_ = rs.stream.Close()
	if rs.secondary == nil {
		return nil
	}
	env, err := rs.secondary.AwaitTimeout(0)
	_ = rs.secondary.Close()
	if err != nil {
		return err
	}
	_, err = model.Decode(env.Payload)
	return err
}

// OnClose registers fn to run after every Close call.
func (rs *ResultSet) OnClose(fn func()) {
	rs.mu.Lock()
	rs.callbacks = append(rs.callbacks, fn)
	rs.mu.Unlock()
}

// Close releases the sub-channel and the pending final status. It is
// idempotent; registered callbacks run on every call.
func (rs *ResultSet) Close() error {
	rs.mu.Lock()
	first := !rs.closed
	rs.closed = true
	fns := append([]func(){}, rs.callbacks...)
	rs.mu.Unlock()

	var err error
	if first {
		rs.client.forget(rs)
		err = rs.StreamCursor.Close()
		if rs.secondary != nil {
			_ = rs.secondary.Close()
		}
	}
	for _, fn := range fns {
		fn()
	}
	return err
}
