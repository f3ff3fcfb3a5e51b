// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package disposer releases server-side handles in the background.
//
// When a handle's close cannot wait for the server to confirm the release, the
// pending release is handed to a Coordinator. The coordinator owns a single
// worker goroutine fed by a mailbox. For each request it first collects the
// reply of the release that is already in flight, and only sends a new release
// when there is none or the previous one failed. A server answer saying the
// handle is unknown or already released counts as success.
//
// Failures are retried at a bounded rate. After MaxAttempts consecutive failures
// of one request the coordinator stops and reports a session-fatal error from
// Err and WaitForEmpty, so shutdown never waits on an unreachable server.
package disposer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/time/rate"

	"dbwire/cli/internal/diagnostic"
	"dbwire/cli/internal/errors"
	"dbwire/cli/internal/future"
	"dbwire/cli/internal/logging"
)

// Kind is the kind of handle being released.
type Kind int

const (
	Transaction Kind = iota + 1
	PreparedStatement
)

func (k Kind) String() string {
	switch k {
	case Transaction:
		return "transaction"
	case PreparedStatement:
		return "prepared statement"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Request asks for a server handle to be released.
type Request struct {
	Kind   Kind
	Handle uint64
	// Inflight is the reply of a release already sent, if any. The coordinator
	// collects it before considering a resend.
	Inflight future.Response[struct{}]
	// Resend sends a new release for the handle.
	Resend func(ctx context.Context) (future.Response[struct{}], error)
	// Notice, if set, is called once with the final outcome.
	Notice func(error)
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %d", r.Kind, r.Handle)
}

func (r *Request) notify(err error) {
	if r.Notice != nil {
		r.Notice(err)
	}
}

// Options configures a Coordinator.
type Options struct {
	// AttemptTimeout bounds each wait for a release reply.
	AttemptTimeout time.Duration
	// MaxAttempts is the number of consecutive failures tolerated per request.
	MaxAttempts int
	// RetryInterval is the minimum spacing between sends.
	RetryInterval time.Duration
	Logger        *pterm.Logger
}

// Defaults for zero Options fields.
const (
	DefaultAttemptTimeout = 5 * time.Second
	DefaultMaxAttempts    = 5
	DefaultRetryInterval  = 200 * time.Millisecond
)

// Coordinator drives background releases.
type Coordinator struct {
	opts    Options
	log     *pterm.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	exited chan struct{}

	mu      sync.Mutex
	inbox   []*Request
	pending int
	empty   chan struct{}
	fatal   error
	stopped bool
}

// New starts a coordinator.
func New(opts Options) *Coordinator {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		opts:    opts,
		log:     logging.OrDiscard(opts.Logger),
		limiter: rate.NewLimiter(rate.Every(opts.RetryInterval), 1),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		exited:  make(chan struct{}),
		empty:   make(chan struct{}),
	}
	close(c.empty)
	go c.run()
	return c
}

// Enqueue hands r to the coordinator. It never blocks. After a fatal error or
// shutdown the request is rejected through its Notice.
func (c *Coordinator) Enqueue(r *Request) {
	c.mu.Lock()
	if c.stopped || c.fatal != nil {
		err := c.fatal
		c.mu.Unlock()
		if err == nil {
			err = errors.New(errors.AlreadyClosed, "disposal coordinator is shut down")
		}
		if r.Inflight != nil {
			_ = r.Inflight.Close()
		}
		r.notify(err)
		return
	}
	if c.pending == 0 {
		c.empty = make(chan struct{})
	}
	c.pending++
	c.inbox = append(c.inbox, r)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of requests not yet completed.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Err returns the fatal error, if the coordinator gave up.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// WaitForEmpty blocks until every enqueued request is completed, the
// coordinator fails, or ctx is done.
func (c *Coordinator) WaitForEmpty(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.fatal != nil {
			err := c.fatal
			c.mu.Unlock()
			return err
		}
		if c.pending == 0 {
			c.mu.Unlock()
			return nil
		}
		empty := c.empty
		c.mu.Unlock()

		select {
		case <-empty:
		case <-ctx.Done():
			return errors.Wrap(errors.ResponseTimeout, "waiting for pending disposals", ctx.Err())
		}
	}
}

// Shutdown waits for pending requests, then stops the worker. Requests still
// queued when ctx is done are abandoned and notified.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	err := c.WaitForEmpty(ctx)

	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cancel()
	<-c.exited
	c.drop(errors.New(errors.AlreadyClosed, "disposal coordinator is shut down"))
	return err
}

func (c *Coordinator) run() {
	defer close(c.exited)
	for {
		r := c.next()
		if r == nil {
			select {
			case <-c.wake:
				continue
			case <-c.ctx.Done():
				return
			}
		}
		err := c.dispose(r)
		if c.ctx.Err() != nil && err != nil {
			// shutdown interrupted the request; drop reports it
			c.requeue(r)
			return
		}
		r.notify(err)
		if errors.IsKind(err, errors.SessionFatal) {
			c.mu.Lock()
			c.fatal = err
			c.mu.Unlock()
			c.log.Error("disposal coordinator gave up", c.log.Args("handle", r.String(), "error", err.Error()))
			c.done()
			c.drop(err)
			return
		}
		c.done()
	}
}

func (c *Coordinator) next() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbox) == 0 {
		return nil
	}
	r := c.inbox[0]
	c.inbox[0] = nil
	c.inbox = c.inbox[1:]
	return r
}

func (c *Coordinator) requeue(r *Request) {
	c.mu.Lock()
	c.inbox = append([]*Request{r}, c.inbox...)
	c.mu.Unlock()
}

func (c *Coordinator) done() {
	c.mu.Lock()
	c.pending--
	if c.pending == 0 {
		close(c.empty)
	}
	c.mu.Unlock()
}

// drop rejects every queued request with err.
func (c *Coordinator) drop(err error) {
	c.mu.Lock()
	rest := c.inbox
	c.inbox = nil
	if c.pending > 0 {
		c.pending = 0
		close(c.empty)
	}
	c.mu.Unlock()
	for _, r := range rest {
		if r.Inflight != nil {
			_ = r.Inflight.Close()
		}
		r.notify(err)
	}
}

// dispose drives one request to completion. It returns nil once the server
// confirmed the release, a non-retryable server error, or a SessionFatal error
// after too many failures.
func (c *Coordinator) dispose(r *Request) error {
	failures := 0
	for {
		if r.Inflight == nil {
			if r.Resend == nil {
				return errors.Newf(errors.Transport, "release of %s failed and cannot be resent", r)
			}
			if err := c.limiter.Wait(c.ctx); err != nil {
				return errors.Wrap(errors.Canceled, "disposal interrupted", err)
			}
			resp, err := r.Resend(c.ctx)
			if err != nil {
				failures++
				c.log.Warn("release send failed", c.log.Args("handle", r.String(), "attempt", failures, "error", err.Error()))
				if failures >= c.opts.MaxAttempts {
					return errors.Wrap(errors.SessionFatal, fmt.Sprintf("could not release %s", r), err)
				}
				continue
			}
			r.Inflight = resp
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.opts.AttemptTimeout)
		_, err := r.Inflight.Await(ctx)
		cancel()
		switch {
		case err == nil, AlreadyReleased(err):
			_ = r.Inflight.Close()
			c.log.Debug("released", c.log.Args("handle", r.String()))
			return nil
		case c.ctx.Err() != nil && !r.Inflight.IsDone():
			// shutdown; the reply stays in flight until drop closes it
			return errors.Wrap(errors.Canceled, "disposal interrupted", err)
		case errors.IsKind(err, errors.ResponseTimeout):
			// keep the request in flight; its reply is collected on the next pass
		case retryable(err):
			_ = r.Inflight.Close()
			r.Inflight = nil
		default:
			_ = r.Inflight.Close()
			c.log.Warn("release rejected", c.log.Args("handle", r.String(), "error", err.Error()))
			return err
		}
		failures++
		c.log.Warn("release not confirmed", c.log.Args("handle", r.String(), "attempt", failures, "error", err.Error()))
		if failures >= c.opts.MaxAttempts {
			if r.Inflight != nil {
				_ = r.Inflight.Close()
			}
			return errors.Wrap(errors.SessionFatal, fmt.Sprintf("could not release %s", r), err)
		}
		if c.ctx.Err() != nil {
			return errors.Wrap(errors.Canceled, "disposal interrupted", c.ctx.Err())
		}
	}
}

// AlreadyReleased reports whether err says the handle no longer exists on the
// server, which a release treats as success.
func AlreadyReleased(err error) bool {
	switch diagnostic.CodeOf(err) {
	case diagnostic.TransactionNotFound, diagnostic.StatementNotFound:
		return true
	}
	return false
}

func retryable(err error) bool {
	if errors.IsKind(err, errors.Transport) {
		return true
	}
	switch diagnostic.ActionOf(err) {
	case diagnostic.RetryRequest, diagnostic.RetryConnection:
		return true
	}
	return false
}
