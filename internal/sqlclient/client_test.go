// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlclient

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"dbwire/cli/internal/bridge/bridgetest"
	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/diagnostic"
	"dbwire/cli/internal/disposer"
	"dbwire/cli/internal/errors"
	"dbwire/cli/internal/future"
	"dbwire/cli/internal/relation"
)

const txHandle = 100

func beginOK(*model.Request) *future.Raw {
	return bridgetest.Reply(&model.Response{Handle: txHandle, TransactionID: "TID-100"})
}

func newClient(t *testing.T, routes bridgetest.Router) (*Client, *bridgetest.Channel, *disposer.Coordinator) {
	t.Helper()
	if _, ok := routes[model.OpBegin]; !ok {
		routes[model.OpBegin] = beginOK
	}
	ch := bridgetest.New(routes.Handle)
	coord := disposer.New(disposer.Options{
		AttemptTimeout: 20 * time.Millisecond,
		MaxAttempts:    50,
		RetryInterval:  time.Millisecond,
	})
	t.Cleanup(func() { coord.Shutdown(context.Background()) })
	return New(ch, coord, Options{CloseTimeout: 20 * time.Millisecond}), ch, coord
}

func begin(t *testing.T, c *Client) *Transaction {
	t.Helper()
	tx, err := c.Begin(context.Background(), TransactionOptions{}).AwaitTimeout(time.Second)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if tx.Handle() != txHandle || tx.ID() != "TID-100" {
		t.Fatalf("Begin = %d %q", tx.Handle(), tx.ID())
	}
	return tx
}

func TestCommitAutoDisposeSendsNoRelease(t *testing.T) {
	c, ch, _ := newClient(t, bridgetest.Router{})
	tx := begin(t, c)

	if _, err := tx.Commit(context.Background(), CommitOptions{AutoDispose: true}).AwaitTimeout(time.Second); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tx.State() != Disposed {
		t.Fatalf("state after auto-dispose commit = %s", tx.State())
	}
	if err := tx.Close(); err != nil {
		t.Fatal(err)
	}
	if n := ch.Count(model.OpDisposeTransaction); n != 0 {
		t.Fatalf("DisposeTransaction sent %d times", n)
	}
	reqs := ch.Requests()
	if last := reqs[len(reqs)-1]; last.Op != model.OpCommit || !last.AutoDispose || last.Transaction != txHandle {
		t.Fatalf("last request = %+v", last)
	}
}

func TestCommitAutoDisposeOnServerFailure(t *testing.T) {
	c, ch, _ := newClient(t, bridgetest.Router{
		model.OpCommit: func(*model.Request) *future.Raw { return bridgetest.ReplyError(52, "read conflict") },
	})
	tx := begin(t, c)

	_, err := tx.Commit(context.Background(), CommitOptions{AutoDispose: true}).AwaitTimeout(time.Second)
	if !stderrors.Is(err, diagnostic.OCCRead) {
		t.Fatalf("Commit = %v", err)
	}
	tx.Close()
	if n := ch.Count(model.OpDisposeTransaction); n != 0 {
		t.Fatalf("DisposeTransaction sent %d times", n)
	}
}

func TestCommitThenCloseReleasesOnceAfterTimeout(t *testing.T) {
	release := future.NewRaw()
	c, ch, coord := newClient(t, bridgetest.Router{
		model.OpDisposeTransaction: func(*model.Request) *future.Raw {
			time.AfterFunc(60*time.Millisecond, func() {
				release.Resolve(&future.Envelope{Payload: (&model.Response{}).Marshal()}, nil)
			})
			return release
		},
	})
	tx := begin(t, c)
	if _, err := tx.Commit(context.Background(), CommitOptions{}).AwaitTimeout(time.Second); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := tx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tx.State() != Closing {
		t.Fatalf("state before confirmation = %s", tx.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := coord.WaitForEmpty(ctx); err != nil {
		t.Fatalf("WaitForEmpty: %v", err)
	}
	if tx.State() != Disposed {
		t.Fatalf("state after confirmation = %s", tx.State())
	}
	reqs := ch.Requests()
	n := 0
	for _, r := range reqs {
		if r.Op == model.OpDisposeTransaction {
			n++
			if r.Transaction != txHandle {
				t.Fatalf("released handle %d", r.Transaction)
			}
		}
	}
	if n != 1 {
		t.Fatalf("DisposeTransaction sent %d times", n)
	}
}

func TestCloseTwice(t *testing.T) {
	c, ch, _ := newClient(t, bridgetest.Router{})
	tx := begin(t, c)

	var calls atomic.Int32
	tx.OnClose(func() { calls.Add(1) })
	for i := 0; i < 2; i++ {
		if err := tx.Close(); err != nil {
			t.Fatalf("Close %d: %v", i, err)
		}
	}
	if n := ch.Count(model.OpDisposeTransaction); n != 1 {
		t.Fatalf("DisposeTransaction sent %d times", n)
	}
	if calls.Load() < 1 {
		t.Fatalf("close callback never ran")
	}
	if calls.Load() != 2 {
		t.Fatalf("close callback ran %d times for 2 closes", calls.Load())
	}
}

func TestStaleUseFailsLocally(t *testing.T) {
	c, ch, _ := newClient(t, bridgetest.Router{
		model.OpPrepare: func(*model.Request) *future.Raw { return bridgetest.Reply(&model.Response{Handle: 7}) },
	})
	tx := begin(t, c)
	ps, err := c.Prepare(context.Background(), "SELECT 1").AwaitTimeout(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	tx.Close()
	before := len(ch.Requests())

	checks := []struct {
		name string
		err  func() error
	}{
		{"ExecuteStatement", func() error {
			_, err := tx.ExecuteStatement(context.Background(), "DELETE FROM t").AwaitTimeout(time.Second)
			return err
		}},
		{"ExecuteQuery", func() error {
			_, err := tx.ExecuteQuery(context.Background(), "SELECT 1").AwaitTimeout(time.Second)
			return err
		}},
		{"ExecutePreparedStatement", func() error {
			_, err := tx.ExecutePreparedStatement(context.Background(), ps).AwaitTimeout(time.Second)
			return err
		}},
		{"Commit", func() error {
			_, err := tx.Commit(context.Background(), CommitOptions{}).AwaitTimeout(time.Second)
			return err
		}},
		{"Rollback", func() error {
			_, err := tx.Rollback(context.Background()).AwaitTimeout(time.Second)
			return err
		}},
		{"Status", func() error {
			_, err := tx.Status(context.Background()).AwaitTimeout(time.Second)
			return err
		}},
		{"OpenInputStream", func() error {
			_, err := tx.OpenInputStream(context.Background(), relation.BlobReference{ObjectID: 1}).AwaitTimeout(time.Second)
			return err
		}},
	}
	for _, tt := range checks {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.err(); !errors.IsKind(err, errors.AlreadyClosed) {
				t.Fatalf("want already_closed, got %v", err)
			}
		})
	}
	if after := len(ch.Requests()); after != before {
		t.Fatalf("%d requests sent on a closed transaction", after-before)
	}

	ps.Close()
	tx2 := begin(t, c)
	if _, err := tx2.ExecutePreparedQuery(context.Background(), ps).AwaitTimeout(time.Second); !errors.IsKind(err, errors.AlreadyClosed) {
		t.Fatalf("closed statement: want already_closed, got %v", err)
	}
}

func TestExecuteStatement(t *testing.T) {
	c, _, _ := newClient(t, bridgetest.Router{
		model.OpExecuteStatement: func(req *model.Request) *future.Raw {
			if req.SQL == "bad" {
				return bridgetest.ReplyError(12, "duplicate key")
			}
			return bridgetest.Reply(&model.Response{Counters: []model.Counter{
				{Kind: model.CounterInsertedRows, Value: 2},
				{Kind: model.CounterUpdatedRows, Value: 1},
			}})
		},
	})
	tx := begin(t, c)

	res, err := tx.ExecuteStatement(context.Background(), "INSERT").AwaitTimeout(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted() != 2 || res.Updated() != 1 || res.Total() != 3 {
		t.Fatalf("counters = %+v", res.Counters)
	}

	_, err = tx.ExecuteStatement(context.Background(), "bad").AwaitTimeout(time.Second)
	if !stderrors.Is(err, diagnostic.FamilyConstraint) || diagnostic.CodeOf(err) != diagnostic.UniqueConstraintViolation {
		t.Fatalf("want unique constraint violation, got %v", err)
	}
}

func rows() []byte {
	return relation.NewEncoder().
		WriteRowBegin(2).WriteInt(1).WriteCharacter("one").
		WriteRowBegin(2).WriteInt(2).WriteCharacter("two").
		WriteEndOfContents().Bytes()
}

func TestQuery(t *testing.T) {
	tests := []struct {
		name      string
		secondary *future.Raw
		wantCode  diagnostic.Code
	}{
		{name: "success", secondary: bridgetest.Reply(&model.Response{})},
		{name: "failure after last row", secondary: bridgetest.ReplyError(52, "read conflict"), wantCode: diagnostic.OCCRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ch, _ := newClient(t, bridgetest.Router{
				model.OpExecuteQuery: func(*model.Request) *future.Raw {
					return bridgetest.ReplyStream(&model.Response{}, "rs-1", tt.secondary)
				},
			})
			ch.AddSubChannel("rs-1", rows())
			tx := begin(t, c)

			rs, err := tx.ExecuteQuery(context.Background(), "SELECT * FROM t").AwaitTimeout(time.Second)
			if err != nil {
				t.Fatal(err)
			}
			var ids []int64
			for {
				ok, err := rs.NextRow()
				if err != nil {
					if tt.wantCode == diagnostic.Unknown {
						t.Fatalf("NextRow: %v", err)
					}
					if !stderrors.Is(err, tt.wantCode) || !stderrors.Is(err, diagnostic.FamilyConcurrency) {
						t.Fatalf("want %s, got %v", tt.wantCode, err)
					}
					break
				}
				if !ok {
					if tt.wantCode != diagnostic.Unknown {
						t.Fatalf("error after last row was masked")
					}
					break
				}
				rs.NextColumn()
				id, err := rs.FetchInt8Value()
				if err != nil {
					t.Fatal(err)
				}
				ids = append(ids, id)
			}
			if len(ids) != 2 {
				t.Fatalf("rows = %v", ids)
			}
			if n := ch.Closed("rs-1"); n != 1 {
				t.Fatalf("sub-channel closed %d times at end of rows", n)
			}
			if err := rs.Close(); err != nil {
				t.Fatal(err)
			}
			if n := ch.Closed("rs-1"); n != 1 {
				t.Fatalf("sub-channel closed %d times", n)
			}
		})
	}
}

func TestQueryClosedEarlyReleasesChannel(t *testing.T) {
	secondary := future.NewRaw()
	c, ch, _ := newClient(t, bridgetest.Router{
		model.OpExecuteQuery: func(*model.Request) *future.Raw {
			return bridgetest.ReplyStream(&model.Response{}, "rs-2", secondary)
		},
	})
	ch.AddSubChannel("rs-2", rows())
	tx := begin(t, c)
	rs, err := tx.ExecuteQuery(context.Background(), "SELECT * FROM t").AwaitTimeout(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var calls int
	rs.OnClose(func() { calls++ })
	rs.NextRow()
	rs.Close()
	rs.Close()

	if n := ch.Closed("rs-2"); n != 1 {
		t.Fatalf("sub-channel closed %d times", n)
	}
	if !secondary.Released() {
		t.Fatalf("final status not released")
	}
	if calls != 2 {
		t.Fatalf("callbacks = %d", calls)
	}
	if _, err := rs.NextRow(); !errors.IsKind(err, errors.AlreadyClosed) {
		t.Fatalf("NextRow after Close: want already_closed, got %v", err)
	}
}

func TestQueryWithoutChannelIsBroken(t *testing.T) {
	c, _, _ := newClient(t, bridgetest.Router{
		model.OpExecuteQuery: func(*model.Request) *future.Raw { return bridgetest.Reply(&model.Response{}) },
	})
	tx := begin(t, c)
	if _, err := tx.ExecuteQuery(context.Background(), "SELECT 1").AwaitTimeout(time.Second); !errors.IsKind(err, errors.BrokenResponse) {
		t.Fatalf("want broken_response, got %v", err)
	}
}

func TestPreparedStatement(t *testing.T) {
	c, ch, _ := newClient(t, bridgetest.Router{
		model.OpPrepare: func(*model.Request) *future.Raw {
			return bridgetest.Reply(&model.Response{Handle: 7, HasResultRecords: false})
		},
	})
	tx := begin(t, c)
	ps, err := c.Prepare(context.Background(), "INSERT INTO t VALUES (:id)", Placeholder{Name: "id", Type: model.AtomInt8}).AwaitTimeout(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if ps.Handle() != 7 || ps.HasResultRecords() || len(ps.Placeholders()) != 1 {
		t.Fatalf("prepared = %d %v %v", ps.Handle(), ps.HasResultRecords(), ps.Placeholders())
	}
	if _, err := tx.ExecutePreparedStatement(context.Background(), ps, Int8("id", 42)).AwaitTimeout(time.Second); err != nil {
		t.Fatal(err)
	}

	var exec *model.Request
	for _, r := range ch.Requests() {
		if r.Op == model.OpExecutePreparedStatement {
			exec = r
		}
	}
	if exec == nil || exec.Statement != 7 || exec.Transaction != txHandle {
		t.Fatalf("execute request = %+v", exec)
	}
	cur := relation.NewStreamCursor(bytes.NewReader(exec.Parameters))
	cur.NextRow()
	cur.NextColumn()
	cur.BeginRowValue()
	cur.NextColumn()
	if name, err := cur.FetchCharacterValue(); err != nil || name != "id" {
		t.Fatalf("parameter name = %q, %v", name, err)
	}
	cur.NextColumn()
	if v, err := cur.FetchInt8Value(); err != nil || v != 42 {
		t.Fatalf("parameter value = %d, %v", v, err)
	}

	ps.Close()
	ps.Close()
	if n := ch.Count(model.OpDisposePreparedStatement); n != 1 {
		t.Fatalf("DisposePreparedStatement sent %d times", n)
	}
}

func TestStatusAndErrorInfo(t *testing.T) {
	c, _, _ := newClient(t, bridgetest.Router{
		model.OpGetTransactionStatus: func(*model.Request) *future.Raw {
			return bridgetest.Reply(&model.Response{Status: model.StatusAborted, StatusMessage: "aborted by conflict"})
		},
		model.OpGetTransactionErrorInfo: func(*model.Request) *future.Raw {
			return bridgetest.Reply(&model.Response{ErrorInfo: &model.Error{Status: 53, Detail: "write conflict"}})
		},
	})
	tx := begin(t, c)

	st, err := tx.Status(context.Background()).AwaitTimeout(time.Second)
	if err != nil || st.Status != model.StatusAborted || !st.Status.Terminal() {
		t.Fatalf("Status = %+v, %v", st, err)
	}
	info, err := tx.ErrorInfo(context.Background()).AwaitTimeout(time.Second)
	if err != nil || info == nil || info.Code != diagnostic.OCCWrite {
		t.Fatalf("ErrorInfo = %v, %v", info, err)
	}
}

func TestLargeObjects(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "blob.bin")
	if err := os.WriteFile(file, []byte("from a file"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, ch, _ := newClient(t, bridgetest.Router{
		model.OpGetLargeObjectData: func(req *model.Request) *future.Raw {
			switch req.ObjectID {
			case 1:
				return bridgetest.ReplyStream(&model.Response{}, "lob-1", nil)
			case 2:
				return bridgetest.Reply(&model.Response{Path: file})
			}
			return bridgetest.Reply(&model.Response{})
		},
	})
	ch.AddSubChannel("lob-1", []byte("from a channel"))
	tx := begin(t, c)

	tests := []struct {
		name string
		id   uint64
		want string
	}{
		{name: "sub-channel", id: 1, want: "from a channel"},
		{name: "path", id: 2, want: "from a file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tx.OpenInputStream(context.Background(), relation.BlobReference{Provider: 1, ObjectID: tt.id}).AwaitTimeout(time.Second)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			b, err := io.ReadAll(r)
			if err != nil || string(b) != tt.want {
				t.Fatalf("read %q, %v", b, err)
			}
		})
	}

	_, err := tx.OpenReader(context.Background(), relation.ClobReference{ObjectID: 3}).AwaitTimeout(time.Second)
	if !errors.IsKind(err, errors.LargeObjectUnavailable) {
		t.Fatalf("want large_object_unavailable, got %v", err)
	}

	dest := filepath.Join(dir, "copy.bin")
	if err := tx.CopyBlobTo(context.Background(), relation.BlobReference{ObjectID: 1}, dest); err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(dest); string(b) != "from a channel" {
		t.Fatalf("copied %q", b)
	}
}

func TestClientCloseReleasesEverything(t *testing.T) {
	var next atomic.Uint64
	c, ch, _ := newClient(t, bridgetest.Router{
		model.OpBegin: func(*model.Request) *future.Raw {
			return bridgetest.Reply(&model.Response{Handle: 200 + next.Add(1)})
		},
		model.OpPrepare: func(*model.Request) *future.Raw { return bridgetest.Reply(&model.Response{Handle: 9}) },
	})
	for i := 0; i < 3; i++ {
		if _, err := c.Begin(context.Background(), TransactionOptions{Type: model.TransactionLong, WritePreserve: []string{"t"}}).AwaitTimeout(time.Second); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.Prepare(context.Background(), "SELECT 1").AwaitTimeout(time.Second); err != nil {
		t.Fatal(err)
	}
	if c.OpenHandles() != 4 {
		t.Fatalf("OpenHandles = %d", c.OpenHandles())
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if c.OpenHandles() != 0 {
		t.Fatalf("OpenHandles after Close = %d", c.OpenHandles())
	}
	if n := ch.Count(model.OpDisposeTransaction); n != 3 {
		t.Fatalf("DisposeTransaction sent %d times", n)
	}
	if n := ch.Count(model.OpDisposePreparedStatement); n != 1 {
		t.Fatalf("DisposePreparedStatement sent %d times", n)
	}
	if _, err := c.Begin(context.Background(), TransactionOptions{}).AwaitTimeout(time.Second); !errors.IsKind(err, errors.AlreadyClosed) {
		t.Fatalf("Begin after Close: want already_closed, got %v", err)
	}
}

func TestAbandonedBeginIsReleased(t *testing.T) {
	c, ch, _ := newClient(t, bridgetest.Router{})
	pending := c.Begin(context.Background(), TransactionOptions{})
	if err := pending.Close(); err != nil {
		t.Fatal(err)
	}
	if n := ch.Count(model.OpDisposeTransaction); n != 1 {
		t.Fatalf("DisposeTransaction sent %d times", n)
	}
	if c.OpenHandles() != 0 {
		t.Fatalf("OpenHandles = %d", c.OpenHandles())
	}
}
