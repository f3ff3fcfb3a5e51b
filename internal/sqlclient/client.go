// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package sqlclient implements the SQL service client: transactions, prepared
// statements, result sets and large objects.
//
// Every operation returns a pending response. Handles created by the server are
// owned by exactly one client-side object. Once that object is closed the handle
// is never used again: further calls fail locally with an already-closed error
// and nothing is sent. Closing sends the release once, waits a bounded time for
// the server to confirm it, and otherwise leaves the confirmation to the
// session's disposal coordinator.
package sqlclient

import (
	"context"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"dbwire/cli/internal/bridge"
	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/disposer"
	"dbwire/cli/internal/errors"
	"dbwire/cli/internal/future"
	"dbwire/cli/internal/logging"
)

// DefaultCloseTimeout bounds how long Close waits for a release confirmation.
const DefaultCloseTimeout = 2 * time.Second

// Options configures a Client.
type Options struct {
	// CloseTimeout is the initial close timeout of new handles.
	CloseTimeout time.Duration
	Logger       *pterm.Logger
}

// Client issues SQL requests over a session channel.
type Client struct {
	ch    bridge.Channel
	coord *disposer.Coordinator
	opts  Options
	log   *pterm.Logger

	mu      sync.Mutex
	handles map[any]func() error
	closed  bool
}

// New returns a client sending on ch and handing unconfirmed releases to coord.
func New(ch bridge.Channel, coord *disposer.Coordinator, opts Options) *Client {
	if opts.CloseTimeout == 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	return &Client{
		ch:      ch,
		coord:   coord,
		opts:    opts,
		log:     logging.OrDiscard(opts.Logger),
		handles: map[any]func() error{},
	}
}

// TransactionOptions configures Begin.
type TransactionOptions struct {
	Type  model.TransactionType
	Label string
	// WritePreserve lists the tables a long transaction may write.
	WritePreserve []string
}

// Begin starts a transaction.
func (c *Client) Begin(ctx context.Context, opts TransactionOptions) future.Response[*Transaction] {
	req := &model.Request{
		Op:              model.OpBegin,
		TransactionType: opts.Type,
		Label:           opts.Label,
		WritePreserve:   opts.WritePreserve,
	}
	return send(ctx, c, req, func(env *future.Envelope) (*Transaction, error) {
		resp, err := model.Decode(env.Payload)
		if err != nil {
			return nil, err
		}
		tx := newTransaction(c, resp.Handle, resp.TransactionID)
		c.track(tx, tx.Close)
		return tx, nil
	})
}

// Prepare compiles sql with the given placeholders.
func (c *Client) Prepare(ctx context.Context, sql string, placeholders ...Placeholder) future.Response[*PreparedStatement] {
	req := &model.Request{Op: model.OpPrepare, SQL: sql, Placeholders: placeholders}
	return send(ctx, c, req, func(env *future.Envelope) (*PreparedStatement, error) {
		resp, err := model.Decode(env.Payload)
		if err != nil {
			return nil, err
		}
		ps := newPreparedStatement(c, resp.Handle, sql, placeholders, resp.HasResultRecords)
		c.track(ps, ps.Close)
		return ps, nil
	})
}

// Close closes every handle still open, concurrently. The client cannot be used
// afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	closers := make([]func() error, 0, len(c.handles))
	for _, fn := range c.handles {
		closers = append(closers, fn)
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, fn := range closers {
		g.Go(fn)
	}
	return g.Wait()
}

// OpenHandles returns the number of handles not yet closed.
func (c *Client) OpenHandles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New(errors.AlreadyClosed, "client is closed")
	}
	return nil
}

func (c *Client) track(h any, closeFn func() error) {
	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.handles[h] = closeFn
	}
	c.mu.Unlock()
	if closed {
		// created after Close: release right away
		_ = closeFn()
	}
}

func (c *Client) forget(h any) {
	c.mu.Lock()
	delete(c.handles, h)
	c.mu.Unlock()
}

// send issues req unless the client is closed and maps the reply with decode.
func send[T any](ctx context.Context, c *Client, req *model.Request, decode future.Decoder[T]) future.Response[T] {
	if err := c.checkOpen(); err != nil {
		return future.Failed[T](err)
	}
	raw, err := bridge.SendRequest(ctx, c.ch, req)
	if err != nil {
		return future.Failed[T](err)
	}
	return future.Map(raw, decode)
}

func decodeVoid(env *future.Envelope) (struct{}, error) {
	_, err := model.Decode(env.Payload)
	return struct{}{}, err
}
