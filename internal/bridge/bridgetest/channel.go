// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package bridgetest provides a scripted in-memory bridge.Channel. A Handler
// decides how each decoded request is answered; the channel records every
// request and every sub-channel open and close so tests can assert on traffic.
package bridgetest

import (
	"bytes"
	"context"
	"io"
	"sync"

	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/errors"
	"dbwire/cli/internal/future"
)

// Handler answers a request. Returning an unresolved Raw lets a test resolve
// the reply later.
type Handler func(req *model.Request) *future.Raw

// Channel is a scripted bridge.Channel.
type Channel struct {
	mu       sync.Mutex
	handler  Handler
	requests []*model.Request
	pending  []*future.Raw
	subs     map[string][]byte
	opened   map[string]int
	closed   map[string]int
	shut     bool
}

// New returns a channel answering with h.
func New(h Handler) *Channel {
	return &Channel{
		handler: h,
		subs:    map[string][]byte{},
		opened:  map[string]int{},
		closed:  map[string]int{},
	}
}

// SetHandler replaces the handler.
func (c *Channel) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Channel) Send(ctx context.Context, serviceID uint32, payload []byte) (*future.Raw, error) {
	if serviceID != model.ServiceSQL {
		return nil, errors.Newf(errors.Transport, "unknown service %d", serviceID)
	}
	req, err := model.UnmarshalRequest(payload)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.shut {
		c.mu.Unlock()
		return nil, errors.New(errors.AlreadyClosed, "channel is closed")
	}
	c.requests = append(c.requests, req)
	h := c.handler
	c.mu.Unlock()

	raw := h(req)
	c.mu.Lock()
	c.pending = append(c.pending, raw)
	c.mu.Unlock()
	return raw, nil
}

// AddSubChannel makes data available under name.
func (c *Channel) AddSubChannel(name string, data []byte) {
	c.mu.Lock()
	c.subs[name] = data
	c.mu.Unlock()
}

func (c *Channel) OpenSubChannel(ctx context.Context, name string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shut {
		return nil, errors.New(errors.AlreadyClosed, "channel is closed")
	}
	data, ok := c.subs[name]
	if !ok {
		return nil, errors.Newf(errors.Transport, "no sub-channel %q", name)
	}
	c.opened[name]++
	return &subChannel{Reader: bytes.NewReader(data), name: name, ch: c}, nil
}

// Close resolves every pending reply with a transport error.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.shut = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, raw := range pending {
		raw.Resolve(nil, errors.New(errors.Transport, "channel closed"))
	}
	return nil
}

// Requests returns the requests seen so far.
func (c *Channel) Requests() []*model.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.Request(nil), c.requests...)
}

// Count returns how many requests with op were sent.
func (c *Channel) Count(op model.Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if r.Op == op {
			n++
		}
	}
	return n
}

// Opened returns how many times the named sub-channel was opened.
func (c *Channel) Opened(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened[name]
}

// Closed returns how many times the named sub-channel was closed.
func (c *Channel) Closed(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed[name]
}

type subChannel struct {
	*bytes.Reader
	name string
	ch   *Channel
	once sync.Once
}

func (s *subChannel) Close() error {
	s.once.Do(func() {
		s.ch.mu.Lock()
		s.ch.closed[s.name]++
		s.ch.mu.Unlock()
	})
	return nil
}

// Reply returns a resolved reply carrying resp.
func Reply(resp *model.Response) *future.Raw {
	return future.Resolved(&future.Envelope{Payload: resp.Marshal()}, nil)
}

// ReplyError returns a resolved reply carrying a server error.
func ReplyError(status uint32, detail string) *future.Raw {
	return Reply(&model.Response{Error: &model.Error{Status: status, Detail: detail}})
}

// ReplyStream returns a resolved reply announcing a sub-channel, followed by a
// secondary status.
func ReplyStream(resp *model.Response, subChannel string, secondary *future.Raw) *future.Raw {
	return future.Resolved(&future.Envelope{
		Payload:    resp.Marshal(),
		SubChannel: subChannel,
		Secondary:  secondary,
	}, nil)
}

// Router dispatches requests by operation. Operations without a route are
// answered with an empty success response.
type Router map[model.Op]Handler

// Handle implements Handler.
func (r Router) Handle(req *model.Request) *future.Raw {
	if h, ok := r[req.Op]; ok {
		return h(req)
	}
	return Reply(&model.Response{})
}
