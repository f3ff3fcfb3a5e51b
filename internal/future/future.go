// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package future provides single-assignment pending responses.
//
// A Raw is resolved by the transport exactly once with an Envelope or an error.
// Callers rarely use it directly: Map turns it into a typed Response whose
// decoding runs once and is cached, so repeated awaits return the same outcome.
//
// Waiting is bounded by a context or a duration. Running out of time yields a
// ResponseTimeout error and leaves the request untouched: the response may still
// arrive and a later Await collects it. Close releases a response that will not
// be read, including any value it carries once that value arrives.
package future

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"dbwire/cli/internal/errors"
)

// Envelope is a resolved reply: a primary payload, an optional secondary
// status that follows it, and an optional sub-channel name announced with it.
type Envelope struct {
	Payload []byte
	// Secondary resolves with the status that confirms a streamed operation.
	// Whoever calls ClaimSecondary first owns it.
	Secondary *Raw
	// SubChannel names the byte stream carrying rows or large object data.
	SubChannel string

	mu      sync.Mutex
	claimed bool
}

// ClaimSecondary hands the secondary status to the caller, who must close it.
// Only the first call returns it; later calls and the envelope's Raw get nil.
func (e *Envelope) ClaimSecondary() *Raw {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.claimed {
		return nil
	}
	e.claimed = true
	return e.Secondary
}

// Raw is a pending Envelope.
type Raw struct {
	done chan struct{}
	once sync.Once

	env *Envelope
	err error

	mu        sync.Mutex
	released  bool
	onRelease []func()
}

// NewRaw returns an unresolved Raw.
func NewRaw() *Raw {
	return &Raw{done: make(chan struct{})}
}

// Resolved returns a Raw that is already resolved.
func Resolved(env *Envelope, err error) *Raw {
	r := NewRaw()
	r.Resolve(env, err)
	return r
}

// Resolve sets the outcome. Only the first call has an effect; it reports
// whether this call won.
func (r *Raw) Resolve(env *Envelope, err error) bool {
	won := false
	r.once.Do(func() {
		r.env, r.err = env, err
		won = true
		close(r.done)
	})
	return won
}

// Done is closed once the Raw is resolved.
func (r *Raw) Done() <-chan struct{} { return r.done }

// IsDone reports whether the Raw is resolved. It never blocks.
func (r *Raw) IsDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Await waits for the outcome.
func (r *Raw) Await(ctx context.Context) (*Envelope, error) {
	select {
	case <-r.done:
		return r.env, r.err
	default:
	}
	select {
	case <-r.done:
		return r.env, r.err
	case <-ctx.Done():
		return nil, waitError(ctx.Err())
	}
}

// AwaitTimeout waits at most d. A non-positive d waits without bound.
func (r *Raw) AwaitTimeout(d time.Duration) (*Envelope, error) {
	ctx, cancel := withTimeout(d)
	defer cancel()
	return r.Await(ctx)
}

// OnRelease registers fn to run once when the Raw is closed. If the Raw is
// already closed fn runs immediately.
func (r *Raw) OnRelease(fn func()) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		fn()
		return
	}
	r.onRelease = append(r.onRelease, fn)
	r.mu.Unlock()
}

// Close releases the Raw. A secondary status nobody claimed is released as
// well, once the envelope arrives. Close is idempotent and never fails.
func (r *Raw) Close() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	fns := r.onRelease
	r.onRelease = nil
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	whenDone(r.done, func() {
		if r.env == nil {
			return
		}
		if sec := r.env.ClaimSecondary(); sec != nil {
			_ = sec.Close()
		}
	})
	return nil
}

// Released reports whether Close has been called.
func (r *Raw) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Response is a typed pending result.
type Response[T any] interface {
	Await(ctx context.Context) (T, error)
	AwaitTimeout(d time.Duration) (T, error)
	IsDone() bool
	Close() error
}

// Decoder turns an envelope into a value.
type Decoder[T any] func(env *Envelope) (T, error)

// Mapped is a Response decoded from a Raw.
type Mapped[T any] struct {
	raw    *Raw
	decode Decoder[T]

	once  sync.Once
	value T
	err   error

	mu     sync.Mutex
	taken  bool
	closed bool
}

// Map returns a Response that decodes raw with decode.
func Map[T any](raw *Raw, decode Decoder[T]) *Mapped[T] {
	return &Mapped[T]{raw: raw, decode: decode}
}

// Value returns a Response that is already resolved with v.
func Value[T any](v T) *Mapped[T] {
	return Map(Resolved(&Envelope{}, nil), func(*Envelope) (T, error) { return v, nil })
}

// Failed returns a Response that is already resolved with err.
func Failed[T any](err error) *Mapped[T] {
	return Map(Resolved(nil, err), func(*Envelope) (T, error) {
		var zero T
		return zero, nil
	})
}

// Raw returns the underlying pending envelope.
func (m *Mapped[T]) Raw() *Raw { return m.raw }

func (m *Mapped[T]) resolve() (T, error) {
	m.once.Do(func() {
		env, err := m.raw.env, m.raw.err
		if err != nil {
			m.err = err
			return
		}
		if env == nil {
			m.err = errors.New(errors.BrokenResponse, "empty response")
			return
		}
		m.value, m.err = m.decode(env)
	})
	return m.value, m.err
}

// Await waits for the response and decodes it. A timeout leaves the response
// pending; a later Await may still succeed.
func (m *Mapped[T]) Await(ctx context.Context) (T, error) {
	if err := m.checkOpen(); err != nil {
		var zero T
		return zero, err
	}
	if _, err := m.raw.Await(ctx); err != nil && !m.raw.IsDone() {
		var zero T
		return zero, err
	}
	v, err := m.resolve()
	m.mu.Lock()
	m.taken = true
	m.mu.Unlock()
	return v, err
}

// AwaitTimeout is Await bounded by d. A non-positive d waits without bound.
func (m *Mapped[T]) AwaitTimeout(d time.Duration) (T, error) {
	ctx, cancel := withTimeout(d)
	defer cancel()
	return m.Await(ctx)
}

// IsDone reports whether the response has arrived. It never blocks.
func (m *Mapped[T]) IsDone() bool { return m.raw.IsDone() }

// Close releases the response. If the value was never taken and it holds
// resources, they are released once it arrives.
func (m *Mapped[T]) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	taken := m.taken
	m.mu.Unlock()

	if !taken {
		whenDone(m.raw.done, func() {
			v, err := m.resolve()
			if err != nil {
				return
			}
			if c, ok := any(v).(io.Closer); ok {
				_ = c.Close()
			}
		})
	}
	return m.raw.Close()
}

func (m *Mapped[T]) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New(errors.AlreadyClosed, "response is closed")
	}
	return nil
}

// whenDone runs fn now if done is closed, otherwise in the background once it is.
func whenDone(done <-chan struct{}, fn func()) {
	select {
	case <-done:
		fn()
	default:
		go func() {
			<-done
			fn()
		}()
	}
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d)
}

func waitError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.ResponseTimeout, "response did not arrive in time", err)
	}
	return errors.Wrap(errors.Canceled, "waiting for response", err)
}
