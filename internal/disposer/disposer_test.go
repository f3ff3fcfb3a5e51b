// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package disposer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/diagnostic"
	"dbwire/cli/internal/errors"
	"dbwire/cli/internal/future"
)

func decodeVoid(env *future.Envelope) (struct{}, error) {
	_, err := model.Decode(env.Payload)
	return struct{}{}, err
}

func ok() *future.Raw {
	return future.Resolved(&future.Envelope{Payload: (&model.Response{}).Marshal()}, nil)
}

func serverError(code diagnostic.Code) *future.Raw {
	status, _ := code.WireStatus()
	return future.Resolved(&future.Envelope{Payload: (&model.Response{Error: &model.Error{Status: status}}).Marshal()}, nil)
}

func testOptions() Options {
	return Options{AttemptTimeout: 20 * time.Millisecond, MaxAttempts: 3, RetryInterval: time.Millisecond}
}

type outcome struct {
	err  error
	done chan struct{}
}

func newOutcome() *outcome { return &outcome{done: make(chan struct{})} }

func (o *outcome) notice(err error) { o.err = err; close(o.done) }

func (o *outcome) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-o.done:
		return o.err
	case <-time.After(5 * time.Second):
		t.Fatalf("no notice")
		return nil
	}
}

func TestReconcilesInflightInsteadOfResending(t *testing.T) {
	c := New(testOptions())
	defer c.Shutdown(context.Background())

	raw := future.NewRaw()
	var resends atomic.Int32
	o := newOutcome()
	c.Enqueue(&Request{
		Kind:     Transaction,
		Handle:   100,
		Inflight: future.Map(raw, decodeVoid),
		Resend: func(context.Context) (future.Response[struct{}], error) {
			resends.Add(1)
			return future.Map(ok(), decodeVoid), nil
		},
		Notice: o.notice,
	})

	// let at least one attempt time out before the reply shows up
	time.Sleep(30 * time.Millisecond)
	raw.Resolve(&future.Envelope{Payload: (&model.Response{}).Marshal()}, nil)

	if err := o.wait(t); err != nil {
		t.Fatalf("notice: %v", err)
	}
	if n := resends.Load(); n != 0 {
		t.Fatalf("resent %d times while a reply was in flight", n)
	}
	if err := c.WaitForEmpty(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		inflight    *future.Raw
		resend      *future.Raw
		wantResends int32
		wantErr     diagnostic.Code
	}{
		{name: "confirmed", inflight: ok()},
		{name: "already released", inflight: serverError(diagnostic.TransactionNotFound)},
		{name: "statement already released", inflight: serverError(diagnostic.StatementNotFound)},
		{
			name:        "transport failure is resent",
			inflight:    future.Resolved(nil, errors.New(errors.Transport, "reset")),
			resend:      ok(),
			wantResends: 1,
		},
		{
			name:        "retryable server error is resent",
			inflight:    serverError(diagnostic.ServiceUnavailable),
			resend:      ok(),
			wantResends: 1,
		},
		{
			name:     "non-retryable server error is reported",
			inflight: serverError(diagnostic.Syntax),
			wantErr:  diagnostic.Syntax,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(testOptions())
			defer c.Shutdown(context.Background())

			var resends atomic.Int32
			o := newOutcome()
			c.Enqueue(&Request{
				Kind:     PreparedStatement,
				Handle:   7,
				Inflight: future.Map(tt.inflight, decodeVoid),
				Resend: func(context.Context) (future.Response[struct{}], error) {
					resends.Add(1)
					return future.Map(tt.resend, decodeVoid), nil
				},
				Notice: o.notice,
			})
			err := o.wait(t)
			if tt.wantErr == diagnostic.Unknown {
				if err != nil {
					t.Fatalf("notice: %v", err)
				}
			} else if diagnostic.CodeOf(err) != tt.wantErr {
				t.Fatalf("notice = %v, want %s", err, tt.wantErr)
			}
			if n := resends.Load(); n != tt.wantResends {
				t.Fatalf("resends = %d, want %d", n, tt.wantResends)
			}
			if err := c.Err(); err != nil {
				t.Fatalf("coordinator failed: %v", err)
			}
		})
	}
}

func TestUnreachableServerEscalates(t *testing.T) {
	c := New(testOptions())
	defer c.Shutdown(context.Background())

	var sends atomic.Int32
	o := newOutcome()
	c.Enqueue(&Request{
		Kind:   Transaction,
		Handle: 1,
		Resend: func(context.Context) (future.Response[struct{}], error) {
			sends.Add(1)
			return nil, errors.New(errors.Transport, "connection refused")
		},
		Notice: o.notice,
	})
	queued := newOutcome()
	c.Enqueue(&Request{Kind: Transaction, Handle: 2, Inflight: future.Map(future.NewRaw(), decodeVoid), Notice: queued.notice})

	if err := o.wait(t); !errors.IsKind(err, errors.SessionFatal) {
		t.Fatalf("want session_fatal, got %v", err)
	}
	if n := sends.Load(); n != 3 {
		t.Fatalf("sends = %d, want 3", n)
	}
	if err := queued.wait(t); !errors.IsKind(err, errors.SessionFatal) {
		t.Fatalf("queued request: want session_fatal, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.WaitForEmpty(ctx); !errors.IsKind(err, errors.SessionFatal) {
		t.Fatalf("WaitForEmpty = %v", err)
	}
	if !errors.IsKind(c.Err(), errors.SessionFatal) {
		t.Fatalf("Err = %v", c.Err())
	}

	late := newOutcome()
	c.Enqueue(&Request{Kind: Transaction, Handle: 3, Notice: late.notice})
	if err := late.wait(t); !errors.IsKind(err, errors.SessionFatal) {
		t.Fatalf("late enqueue: want session_fatal, got %v", err)
	}
}

func TestTimeoutsEscalate(t *testing.T) {
	c := New(testOptions())
	defer c.Shutdown(context.Background())

	o := newOutcome()
	c.Enqueue(&Request{Kind: Transaction, Handle: 1, Inflight: future.Map(future.NewRaw(), decodeVoid), Notice: o.notice})
	if err := o.wait(t); !errors.IsKind(err, errors.SessionFatal) {
		t.Fatalf("want session_fatal, got %v", err)
	}
}

func TestEnqueueNeverBlocks(t *testing.T) {
	c := New(Options{AttemptTimeout: time.Second, MaxAttempts: 1, RetryInterval: time.Millisecond})

	blocked := future.NewRaw()
	start := time.Now()
	for i := 0; i < 100; i++ {
		c.Enqueue(&Request{Kind: Transaction, Handle: uint64(i), Inflight: future.Map(blocked, decodeVoid)})
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Fatalf("Enqueue took %v", d)
	}
	if c.Pending() != 100 {
		t.Fatalf("Pending = %d", c.Pending())
	}

	blocked.Resolve(&future.Envelope{Payload: (&model.Response{}).Marshal()}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending after shutdown = %d", c.Pending())
	}

	o := newOutcome()
	c.Enqueue(&Request{Kind: Transaction, Handle: 1, Notice: o.notice})
	if err := o.wait(t); !errors.IsKind(err, errors.AlreadyClosed) {
		t.Fatalf("enqueue after shutdown: want already_closed, got %v", err)
	}
}

func TestShutdownDoesNotHang(t *testing.T) {
	tests := []struct {
		name    string
		attempt time.Duration
	}{
		{name: "short attempts", attempt: 10 * time.Millisecond},
		{name: "attempt longer than budget", attempt: 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Options{AttemptTimeout: tt.attempt, MaxAttempts: 1000, RetryInterval: time.Millisecond})
			o := newOutcome()
			c.Enqueue(&Request{Kind: Transaction, Handle: 1, Inflight: future.Map(future.NewRaw(), decodeVoid), Notice: o.notice})

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			start := time.Now()
			if err := c.Shutdown(ctx); !errors.IsKind(err, errors.ResponseTimeout) {
				t.Fatalf("Shutdown = %v", err)
			}
			if d := time.Since(start); d > time.Second {
				t.Fatalf("Shutdown with a 50ms budget took %s", d)
			}
			if err := o.wait(t); !errors.IsKind(err, errors.AlreadyClosed) {
				t.Fatalf("abandoned request: want already_closed, got %v", err)
			}
		})
	}
}
