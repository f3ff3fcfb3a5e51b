// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package grpcclient provides a gRPC-backed implementation of bridge.Channel.
//
// Every request is one server-streaming call on /dbwire.Session/Exchange. The
// client sends a single BytesValue holding the encoded request; the server
// answers with response header metadata and one or two BytesValue messages. The
// first message is the primary response. When the header announces a final
// status, a second message carries it once the streamed output is complete.
// Sub-channels (result rows, large object data) are opened as separate calls
// on /dbwire.Session/Channel and read as a sequence of byte chunks.
package grpcclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"dbwire/cli/internal/bridge"
	"dbwire/cli/internal/errors"
	"dbwire/cli/internal/future"
	"dbwire/cli/internal/logging"
)

// Method names and metadata keys of the session protocol.
const (
	ExchangeMethod = "/dbwire.Session/Exchange"
	ChannelMethod  = "/dbwire.Session/Channel"

	MDService    = "dbwire-service"
	MDRequestID  = "dbwire-request-id"
	MDSubChannel = "dbwire-subchannel"
	MDSecondary  = "dbwire-secondary"
)

// DefaultTokenTTL is how long an access token is trusted without refresh.
const DefaultTokenTTL = 20 * time.Minute

var _ bridge.Channel = (*Client)(nil)

// Options configures Dial.
type Options struct {
	// Address is host[:port]. With TLS enabled a missing port defaults to 443.
	Address string
	// Insecure disables TLS.
	Insecure bool
	// Token is sent as a bearer token with every call.
	Token    string
	TokenTTL time.Duration
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
	Logger      *pterm.Logger
}

// Client is a session channel over a single gRPC connection.
type Client struct {
	conn *grpc.ClientConn
	log  *pterm.Logger

	// lifetime of every call; canceled by Close
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	accessToken string
	tokenExpiry time.Time
}

// Dial creates the connection. The connection is established lazily by the
// first call.
func Dial(opts Options) (*Client, error) {
	target := opts.Address
	var creds credentials.TransportCredentials
	if opts.Insecure {
		creds = insecure.NewCredentials()
	} else {
		// derive SNI and ensure a default port
		host := opts.Address
		if h, _, err := net.SplitHostPort(opts.Address); err == nil {
			host = h
		} else {
			target = net.JoinHostPort(opts.Address, "443")
		}
		creds = credentials.NewTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
	}

	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts.DialOptions...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.Transport, "creating connection to "+opts.Address, err)
	}

	ttl := opts.TokenTTL
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:   conn,
		log:    logging.OrDiscard(opts.Logger),
		ctx:    ctx,
		cancel: cancel,
	}
	if opts.Token != "" {
		c.accessToken = opts.Token
		c.tokenExpiry = time.Now().Add(ttl)
	}
	return c, nil
}

// outgoing returns the call context carrying the session metadata.
func (c *Client) outgoing(pairs ...string) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New(errors.AlreadyClosed, "channel is closed")
	}
	md := metadata.Pairs(pairs...)
	if c.accessToken != "" {
		if !time.Now().Before(c.tokenExpiry) {
			return nil, errors.New(errors.Unauthenticated, "access token expired")
		}
		md.Append("authorization", "Bearer "+c.accessToken)
	}
	return metadata.NewOutgoingContext(c.ctx, md), nil
}

// Send opens an exchange call for payload. ctx bounds only the send; the reply
// lives until it is closed or the client shuts down.
func (c *Client) Send(ctx context.Context, serviceID uint32, payload []byte) (*future.Raw, error) {
	requestID := uuid.NewString()
	callCtx, err := c.outgoing(MDService, strconv.FormatUint(uint64(serviceID), 10), MDRequestID, requestID)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithCancel(callCtx)
	stop := context.AfterFunc(ctx, cancel)

	cs, err := c.conn.NewStream(callCtx, &grpc.StreamDesc{ServerStreams: true}, ExchangeMethod)
	if err == nil {
		err = cs.SendMsg(wrapperspb.Bytes(payload))
	}
	if err == nil {
		err = cs.CloseSend()
	}
	if !stop() {
		// ctx ended while sending
		cancel()
		if err == nil {
			err = ctx.Err()
		}
	}
	if err != nil {
		cancel()
		return nil, statusError("sending request", err)
	}
	c.log.Trace("request sent", c.log.Args("service", serviceID, "request_id", requestID, "bytes", len(payload)))

	raw := future.NewRaw()
	raw.OnRelease(func() {
		if !raw.IsDone() {
			cancel()
		}
	})
	go c.receive(cs, raw, cancel, requestID)
	return raw, nil
}

func (c *Client) receive(cs grpc.ClientStream, raw *future.Raw, cancel context.CancelFunc, requestID string) {
	defer cancel()

	hdr, err := cs.Header()
	if err != nil {
		raw.Resolve(nil, statusError("reading response header", err))
		return
	}
	first := new(wrapperspb.BytesValue)
	if err := cs.RecvMsg(first); err != nil {
		if stderrors.Is(err, io.EOF) {
			raw.Resolve(nil, errors.New(errors.BrokenResponse, "response stream ended before the reply"))
			return
		}
		raw.Resolve(nil, statusError("receiving response", err))
		return
	}

	env := &future.Envelope{Payload: first.GetValue()}
	if names := hdr.Get(MDSubChannel); len(names) > 0 {
		env.SubChannel = names[0]
	}
	var secondary *future.Raw
	if len(hdr.Get(MDSecondary)) > 0 {
		secondary = future.NewRaw()
		secondary.OnRelease(func() {
			if !secondary.IsDone() {
				cancel()
			}
		})
		env.Secondary = secondary
	}
	raw.Resolve(env, nil)
	if secondary == nil {
		return
	}

	second := new(wrapperspb.BytesValue)
	if err := cs.RecvMsg(second); err != nil {
		if stderrors.Is(err, io.EOF) {
			secondary.Resolve(nil, errors.New(errors.BrokenResponse, "response stream ended before the final status"))
			return
		}
		secondary.Resolve(nil, statusError("receiving final status", err))
		return
	}
	c.log.Trace("final status received", c.log.Args("request_id", requestID))
	secondary.Resolve(&future.Envelope{Payload: second.GetValue()}, nil)
}

// OpenSubChannel opens the named stream.
func (c *Client) OpenSubChannel(ctx context.Context, name string) (io.ReadCloser, error) {
	callCtx, err := c.outgoing(MDSubChannel, name)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithCancel(callCtx)
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	cs, err := c.conn.NewStream(callCtx, &grpc.StreamDesc{ServerStreams: true}, ChannelMethod)
	if err == nil {
		err = cs.SendMsg(wrapperspb.String(name))
	}
	if err == nil {
		err = cs.CloseSend()
	}
	if err != nil {
		cancel()
		return nil, statusError("opening sub-channel "+name, err)
	}
	return &chunkReader{cs: cs, cancel: cancel, name: name}, nil
}

// Close cancels every outstanding call and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()

	c.cancel()
	return c.conn.Close()
}

// chunkReader reads a sub-channel as a byte stream.
type chunkReader struct {
	cs     grpc.ClientStream
	cancel context.CancelFunc
	name   string

	buf  []byte
	err  error
	once sync.Once
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		m := new(wrapperspb.BytesValue)
		if err := r.cs.RecvMsg(m); err != nil {
			if stderrors.Is(err, io.EOF) {
				r.err = io.EOF
			} else {
				r.err = statusError("reading sub-channel "+r.name, err)
			}
			continue
		}
		r.buf = m.GetValue()
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// Close ends the call. It is idempotent.
func (r *chunkReader) Close() error {
	r.once.Do(func() {
		r.cancel()
		if r.err == nil {
			r.err = errors.New(errors.AlreadyClosed, "sub-channel "+r.name+" is closed")
		}
	})
	return nil
}

// statusError maps a gRPC failure onto the error taxonomy.
func statusError(msg string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.ResponseTimeout, msg, err)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(errors.Canceled, msg, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return errors.Wrap(errors.Transport, msg, err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return errors.Wrap(errors.ResponseTimeout, msg, err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return errors.Wrap(errors.Unauthenticated, msg, err)
	}
	return errors.Wrap(errors.Transport, msg, err)
}
