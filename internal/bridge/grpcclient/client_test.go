// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package grpcclient

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"dbwire/cli/internal/bridge"
	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/diagnostic"
	"dbwire/cli/internal/disposer"
	"dbwire/cli/internal/errors"
	"dbwire/cli/internal/relation"
	"dbwire/cli/internal/sqlclient"
)

// exchangeFunc answers one exchange call.
type exchangeFunc func(md metadata.MD, req *model.Request, stream grpc.ServerStream) error

type fakeServer struct {
	exchange exchangeFunc
	channels map[string][][]byte

	mu   sync.Mutex
	seen []metadata.MD
}

func (s *fakeServer) handle(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	md, _ := metadata.FromIncomingContext(stream.Context())
	s.mu.Lock()
	s.seen = append(s.seen, md)
	s.mu.Unlock()

	switch method {
	case ExchangeMethod:
		in := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		req, err := model.UnmarshalRequest(in.GetValue())
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		return s.exchange(md, req, stream)
	case ChannelMethod:
		in := new(wrapperspb.StringValue)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		chunks, ok := s.channels[in.GetValue()]
		if !ok {
			return status.Error(codes.NotFound, "no such channel")
		}
		for _, c := range chunks {
			if err := stream.SendMsg(wrapperspb.Bytes(c)); err != nil {
				return err
			}
		}
		return nil
	}
	return status.Error(codes.Unimplemented, method)
}

func (s *fakeServer) metadata() []metadata.MD {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]metadata.MD(nil), s.seen...)
}

func startServer(t *testing.T, srv *fakeServer, opts Options) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.UnknownServiceHandler(srv.handle))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	opts.Address = "passthrough:///bufnet"
	opts.Insecure = true
	opts.DialOptions = append(opts.DialOptions, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	c, err := Dial(opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func reply(stream grpc.ServerStream, resp *model.Response) error {
	return stream.SendMsg(wrapperspb.Bytes(resp.Marshal()))
}

func TestExchange(t *testing.T) {
	srv := &fakeServer{exchange: func(_ metadata.MD, req *model.Request, stream grpc.ServerStream) error {
		if req.Op != model.OpBegin || req.Label != "nightly" {
			return status.Error(codes.InvalidArgument, "unexpected request")
		}
		return reply(stream, &model.Response{Handle: 5, TransactionID: "TID-5"})
	}}
	c := startServer(t, srv, Options{Token: "secret"})

	raw, err := bridge.SendRequest(context.Background(), c, &model.Request{Op: model.OpBegin, Label: "nightly"})
	if err != nil {
		t.Fatal(err)
	}
	env, err := raw.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := model.Decode(env.Payload)
	if err != nil || resp.Handle != 5 || resp.TransactionID != "TID-5" {
		t.Fatalf("Decode = %+v, %v", resp, err)
	}
	if env.SubChannel != "" || env.Secondary != nil {
		t.Fatalf("unexpected stream parts: %+v", env)
	}

	md := srv.metadata()[0]
	if got := md.Get(MDService); len(got) != 1 || got[0] != "3" {
		t.Fatalf("service = %v", got)
	}
	if got := md.Get("authorization"); len(got) != 1 || got[0] != "Bearer secret" {
		t.Fatalf("authorization = %v", got)
	}
	if _, err := uuid.Parse(md.Get(MDRequestID)[0]); err != nil {
		t.Fatalf("request id: %v", err)
	}
}

func TestStreamedReply(t *testing.T) {
	srv := &fakeServer{
		exchange: func(_ metadata.MD, _ *model.Request, stream grpc.ServerStream) error {
			if err := stream.SetHeader(metadata.Pairs(MDSubChannel, "rs-1", MDSecondary, "1")); err != nil {
				return err
			}
			if err := reply(stream, &model.Response{}); err != nil {
				return err
			}
			return reply(stream, &model.Response{Error: &model.Error{Status: 52, Detail: "read conflict"}})
		},
		channels: map[string][][]byte{"rs-1": {[]byte("ab"), []byte("cd")}},
	}
	c := startServer(t, srv, Options{})

	raw, err := bridge.SendRequest(context.Background(), c, &model.Request{Op: model.OpExecuteQuery, SQL: "SELECT 1"})
	if err != nil {
		t.Fatal(err)
	}
	env, err := raw.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if env.SubChannel != "rs-1" || env.Secondary == nil {
		t.Fatalf("envelope = %+v", env)
	}

	r, err := c.OpenSubChannel(context.Background(), env.SubChannel)
	if err != nil {
		t.Fatal(err)
	}
	b, err := io.ReadAll(r)
	if err != nil || string(b) != "abcd" {
		t.Fatalf("read %q, %v", b, err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	final, err := env.Secondary.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := model.Decode(final.Payload); !stderrors.Is(err, diagnostic.OCCRead) {
		t.Fatalf("final status = %v", err)
	}
}

func TestQueryStatusSurvivesClosedResponse(t *testing.T) {
	sendFinal := make(chan struct{})
	srv := &fakeServer{
		exchange: func(_ metadata.MD, req *model.Request, stream grpc.ServerStream) error {
			switch req.Op {
			case model.OpBegin:
				return reply(stream, &model.Response{Handle: 1, TransactionID: "TID-1"})
			case model.OpExecuteQuery:
				if err := stream.SetHeader(metadata.Pairs(MDSubChannel, "rs-1", MDSecondary, "1")); err != nil {
					return err
				}
				if err := reply(stream, &model.Response{}); err != nil {
					return err
				}
				select {
				case <-sendFinal:
				case <-stream.Context().Done():
					return stream.Context().Err()
				}
				return reply(stream, &model.Response{Error: &model.Error{Status: 52, Detail: "read conflict"}})
			}
			return reply(stream, &model.Response{})
		},
		channels: map[string][][]byte{
			"rs-1": {relation.NewEncoder().WriteRowBegin(1).WriteInt(7).WriteEndOfContents().Bytes()},
		},
	}
	c := startServer(t, srv, Options{})
	coord := disposer.New(disposer.Options{AttemptTimeout: time.Second})
	t.Cleanup(func() { coord.Shutdown(context.Background()) })
	client := sqlclient.New(c, coord, sqlclient.Options{CloseTimeout: time.Second})

	ctx := context.Background()
	tx, err := client.Begin(ctx, sqlclient.TransactionOptions{}).AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Close()

	resp := tx.ExecuteQuery(ctx, "SELECT 7")
	rs, err := resp.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()
	if err := resp.Close(); err != nil {
		t.Fatal(err)
	}
	close(sendFinal)

	rows := 0
	for {
		ok, err := rs.NextRow()
		if err != nil {
			if !stderrors.Is(err, diagnostic.OCCRead) {
				t.Fatalf("want %s after the last row, got %v", diagnostic.OCCRead, err)
			}
			break
		}
		if !ok {
			t.Fatal("final status was lost")
		}
		rows++
	}
	if rows != 1 {
		t.Fatalf("rows = %d", rows)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		code codes.Code
		want errors.Kind
	}{
		{codes.Unavailable, errors.Transport},
		{codes.Internal, errors.Transport},
		{codes.Canceled, errors.Transport},
		{codes.DeadlineExceeded, errors.ResponseTimeout},
		{codes.Unauthenticated, errors.Unauthenticated},
		{codes.PermissionDenied, errors.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			srv := &fakeServer{exchange: func(metadata.MD, *model.Request, grpc.ServerStream) error {
				return status.Error(tt.code, "refused")
			}}
			c := startServer(t, srv, Options{})
			raw, err := bridge.SendRequest(context.Background(), c, &model.Request{Op: model.OpRollback, Transaction: 1})
			if err != nil {
				t.Fatal(err)
			}
			if _, err := raw.AwaitTimeout(5 * time.Second); !errors.IsKind(err, tt.want) {
				t.Fatalf("want %s, got %v", tt.want, err)
			}
		})
	}
}

func TestMissingFinalStatusIsBroken(t *testing.T) {
	srv := &fakeServer{exchange: func(_ metadata.MD, _ *model.Request, stream grpc.ServerStream) error {
		if err := stream.SetHeader(metadata.Pairs(MDSecondary, "1")); err != nil {
			return err
		}
		return reply(stream, &model.Response{})
	}}
	c := startServer(t, srv, Options{})
	raw, err := bridge.SendRequest(context.Background(), c, &model.Request{Op: model.OpExecuteQuery})
	if err != nil {
		t.Fatal(err)
	}
	env, err := raw.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Secondary.AwaitTimeout(5 * time.Second); !errors.IsKind(err, errors.BrokenResponse) {
		t.Fatalf("want broken_response, got %v", err)
	}
}

func TestCloseFailsPendingReplies(t *testing.T) {
	entered := make(chan struct{})
	srv := &fakeServer{exchange: func(_ metadata.MD, _ *model.Request, stream grpc.ServerStream) error {
		close(entered)
		<-stream.Context().Done()
		return stream.Context().Err()
	}}
	c := startServer(t, srv, Options{})

	raw, err := bridge.SendRequest(context.Background(), c, &model.Request{Op: model.OpCommit, Transaction: 1})
	if err != nil {
		t.Fatal(err)
	}
	<-entered
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := raw.AwaitTimeout(5 * time.Second); err == nil {
		t.Fatal("pending reply resolved without error")
	}

	_, err = bridge.SendRequest(context.Background(), c, &model.Request{Op: model.OpCommit, Transaction: 1})
	if !errors.IsKind(err, errors.AlreadyClosed) {
		t.Fatalf("Send after Close: want already_closed, got %v", err)
	}
	if _, err := c.OpenSubChannel(context.Background(), "rs-1"); !errors.IsKind(err, errors.AlreadyClosed) {
		t.Fatalf("OpenSubChannel after Close: want already_closed, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	srv := &fakeServer{exchange: func(_ metadata.MD, _ *model.Request, stream grpc.ServerStream) error {
		return reply(stream, &model.Response{})
	}}
	c := startServer(t, srv, Options{Token: "old", TokenTTL: time.Nanosecond})
	time.Sleep(time.Millisecond)

	_, err := bridge.SendRequest(context.Background(), c, &model.Request{Op: model.OpBegin})
	if !errors.IsKind(err, errors.Unauthenticated) {
		t.Fatalf("want unauthenticated, got %v", err)
	}
	if n := len(srv.metadata()); n != 0 {
		t.Fatalf("%d calls reached the server", n)
	}
}

func TestUnknownSubChannel(t *testing.T) {
	c := startServer(t, &fakeServer{}, Options{})
	r, err := c.OpenSubChannel(context.Background(), "missing")
	if err != nil {
		// the status may surface on open or on first read
		if !strings.Contains(err.Error(), "missing") {
			t.Fatalf("error does not name the channel: %v", err)
		}
		return
	}
	defer r.Close()
	if _, err := io.ReadAll(r); !errors.IsKind(err, errors.Transport) {
		t.Fatalf("want transport error, got %v", err)
	}
}
