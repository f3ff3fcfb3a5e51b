// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlclient

import (
	"context"
	"sync"
	"time"

	"dbwire/cli/internal/bridge"
	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/disposer"
	"dbwire/cli/internal/errors"
	"dbwire/cli/internal/future"
)

// State is the lifecycle state of a handle.
type State int

const (
	Open State = iota
	Closing
	Disposed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Disposed:
		return "disposed"
	}
	return "unknown"
}

// resource owns one server handle. Requests are only sent while it is Open;
// release goes out once, on the first Close.
type resource struct {
	client *Client
	kind   disposer.Kind
	handle uint64

	mu           sync.Mutex
	state        State
	callbacks    []func()
	closeTimeout time.Duration
}

func (r *resource) init(c *Client, kind disposer.Kind, handle uint64) {
	r.client, r.kind, r.handle = c, kind, handle
	r.closeTimeout = c.opts.CloseTimeout
}

// Handle returns the server handle.
func (r *resource) Handle() uint64 { return r.handle }

// State returns the lifecycle state.
func (r *resource) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnClose registers fn to run after every Close call.
func (r *resource) OnClose(fn func()) {
	r.mu.Lock()
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}

// SetCloseTimeout sets how long Close waits for the server to confirm the
// release before handing it to the background coordinator. Zero waits without
// bound.
func (r *resource) SetCloseTimeout(d time.Duration) {
	r.mu.Lock()
	r.closeTimeout = d
	r.mu.Unlock()
}

func (r *resource) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Open {
		return errors.Newf(errors.AlreadyClosed, "%s %d is %s", r.kind, r.handle, r.state)
	}
	return nil
}

// markDisposed records that the server no longer holds the handle.
func (r *resource) markDisposed() {
	r.mu.Lock()
	r.state = Disposed
	r.mu.Unlock()
}

func (r *resource) runCallbacks() {
	r.mu.Lock()
	fns := append([]func(){}, r.callbacks...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (r *resource) releaseRequest() *model.Request {
	switch r.kind {
	case disposer.PreparedStatement:
		return &model.Request{Op: model.OpDisposePreparedStatement, Statement: r.handle}
	default:
		return &model.Request{Op: model.OpDisposeTransaction, Transaction: r.handle}
	}
}

func (r *resource) sendRelease(ctx context.Context) (future.Response[struct{}], error) {
	raw, err := bridge.SendRequest(ctx, r.client.ch, r.releaseRequest())
	if err != nil {
		return nil, err
	}
	return future.Map(raw, decodeVoid), nil
}

// close moves the handle out of Open and releases it. Only the first call
// sends anything; every call runs the registered callbacks.
func (r *resource) close(self any) error {
	defer r.runCallbacks()

	r.mu.Lock()
	if r.state != Open {
		r.mu.Unlock()
		return nil
	}
	r.state = Closing
	timeout := r.closeTimeout
	r.mu.Unlock()
	r.client.forget(self)

	req := &disposer.Request{
		Kind:   r.kind,
		Handle: r.handle,
		Resend: r.sendRelease,
		Notice: func(err error) {
			if err == nil {
				r.markDisposed()
			}
		},
	}

	inflight, err := r.sendRelease(context.Background())
	if err != nil {
		if errors.IsKind(err, errors.AlreadyClosed) {
			// the transport is gone and the server drops the handle with it
			r.markDisposed()
			return nil
		}
		r.client.log.Debug("release send failed, retrying in background", r.client.log.Args("handle", r.handle, "error", err.Error()))
		r.client.coord.Enqueue(req)
		return nil
	}

	_, err = inflight.AwaitTimeout(timeout)
	switch {
	case err == nil, disposer.AlreadyReleased(err):
		_ = inflight.Close()
		r.markDisposed()
		return nil
	case errors.IsKind(err, errors.ResponseTimeout), errors.IsKind(err, errors.Transport):
		req.Inflight = inflight
		r.client.coord.Enqueue(req)
		return nil
	}
	_ = inflight.Close()
	r.markDisposed()
	return err
}
