// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlclient

import (
	"context"
	stderrors "errors"

	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/diagnostic"
	"dbwire/cli/internal/disposer"
	"dbwire/cli/internal/future"
)

// Transaction is an open server transaction.
type Transaction struct {
	resource
	id string
}

func newTransaction(c *Client, handle uint64, id string) *Transaction {
	tx := &Transaction{id: id}
	tx.init(c, disposer.Transaction, handle)
	return tx
}

// ID returns the server-assigned transaction id.
func (tx *Transaction) ID() string { return tx.id }

// ExecuteResult holds the row counters reported by a statement.
type ExecuteResult struct {
	Counters map[model.CounterKind]int64
}

func (r ExecuteResult) Inserted() int64 { return r.Counters[model.CounterInsertedRows] }
func (r ExecuteResult) Updated() int64  { return r.Counters[model.CounterUpdatedRows] }
func (r ExecuteResult) Merged() int64   { return r.Counters[model.CounterMergedRows] }
func (r ExecuteResult) Deleted() int64  { return r.Counters[model.CounterDeletedRows] }

// Total returns the sum of all counters.
func (r ExecuteResult) Total() int64 {
	var n int64
	for _, v := range r.Counters {
		n += v
	}
	return n
}

func decodeExecuteResult(env *future.Envelope) (ExecuteResult, error) {
	resp, err := model.Decode(env.Payload)
	if err != nil {
		return ExecuteResult{}, err
	}
	res := ExecuteResult{Counters: map[model.CounterKind]int64{}}
	for _, c := range resp.Counters {
		res.Counters[c.Kind] += c.Value
	}
	return res, nil
}

// ExecuteStatement runs a statement that returns no rows.
func (tx *Transaction) ExecuteStatement(ctx context.Context, sql string) future.Response[ExecuteResult] {
	if err := tx.checkOpen(); err != nil {
		return future.Failed[ExecuteResult](err)
	}
	req := &model.Request{Op: model.OpExecuteStatement, Transaction: tx.handle, SQL: sql}
	return send(ctx, tx.client, req, decodeExecuteResult)
}

// ExecuteQuery runs a query and streams its rows.
func (tx *Transaction) ExecuteQuery(ctx context.Context, sql string) future.Response[*ResultSet] {
	if err := tx.checkOpen(); err != nil {
		return future.Failed[*ResultSet](err)
	}
	req := &model.Request{Op: model.OpExecuteQuery, Transaction: tx.handle, SQL: sql}
	return send(ctx, tx.client, req, tx.client.resultSetDecoder(ctx))
}

// ExecutePreparedStatement runs ps with params.
func (tx *Transaction) ExecutePreparedStatement(ctx context.Context, ps *PreparedStatement, params ...Parameter) future.Response[ExecuteResult] {
	if err := tx.checkOpen(); err != nil {
		return future.Failed[ExecuteResult](err)
	}
	if err := ps.checkOpen(); err != nil {
		return future.Failed[ExecuteResult](err)
	}
	req := &model.Request{
		Op:          model.OpExecutePreparedStatement,
		Transaction: tx.handle,
		Statement:   ps.handle,
		Parameters:  encodeParameters(params),
	}
	return send(ctx, tx.client, req, decodeExecuteResult)
}

// ExecutePreparedQuery runs ps with params and streams its rows.
func (tx *Transaction) ExecutePreparedQuery(ctx context.Context, ps *PreparedStatement, params ...Parameter) future.Response[*ResultSet] {
	if err := tx.checkOpen(); err != nil {
		return future.Failed[*ResultSet](err)
	}
	if err := ps.checkOpen(); err != nil {
		return future.Failed[*ResultSet](err)
	}
	req := &model.Request{
		Op:          model.OpExecutePreparedQuery,
		Transaction: tx.handle,
		Statement:   ps.handle,
		Parameters:  encodeParameters(params),
	}
	return send(ctx, tx.client, req, tx.client.resultSetDecoder(ctx))
}

// CommitOptions configures Commit.
type CommitOptions struct {
	Status model.CommitStatus
	// AutoDispose lets the server release the transaction when the commit
	// reaches a terminal outcome, so no separate release is sent.
	AutoDispose bool
}

// Commit commits the transaction.
func (tx *Transaction) Commit(ctx context.Context, opts CommitOptions) future.Response[struct{}] {
	if err := tx.checkOpen(); err != nil {
		return future.Failed[struct{}](err)
	}
	req := &model.Request{
		Op:           model.OpCommit,
		Transaction:  tx.handle,
		CommitStatus: opts.Status,
		AutoDispose:  opts.AutoDispose,
	}
	return send(ctx, tx.client, req, func(env *future.Envelope) (struct{}, error) {
		_, err := model.Decode(env.Payload)
		if opts.AutoDispose && terminal(err) {
			tx.disposedByServer()
		}
		return struct{}{}, err
	})
}

// Rollback aborts the transaction.
func (tx *Transaction) Rollback(ctx context.Context) future.Response[struct{}] {
	if err := tx.checkOpen(); err != nil {
		return future.Failed[struct{}](err)
	}
	req := &model.Request{Op: model.OpRollback, Transaction: tx.handle}
	return send(ctx, tx.client, req, decodeVoid)
}

// StatusInfo is the reported state of a transaction.
type StatusInfo struct {
	Status  model.TransactionStatus
	Message string
}

// Status queries the server-side state of the transaction.
func (tx *Transaction) Status(ctx context.Context) future.Response[StatusInfo] {
	if err := tx.checkOpen(); err != nil {
		return future.Failed[StatusInfo](err)
	}
	req := &model.Request{Op: model.OpGetTransactionStatus, Transaction: tx.handle}
	return send(ctx, tx.client, req, func(env *future.Envelope) (StatusInfo, error) {
		resp, err := model.Decode(env.Payload)
		if err != nil {
			return StatusInfo{}, err
		}
		return StatusInfo{Status: resp.Status, Message: resp.StatusMessage}, nil
	})
}

// ErrorInfo returns the error that aborted the transaction, or nil if it was
// not aborted by an error.
func (tx *Transaction) ErrorInfo(ctx context.Context) future.Response[*diagnostic.Error] {
	if err := tx.checkOpen(); err != nil {
		return future.Failed[*diagnostic.Error](err)
	}
	req := &model.Request{Op: model.OpGetTransactionErrorInfo, Transaction: tx.handle}
	return send(ctx, tx.client, req, func(env *future.Envelope) (*diagnostic.Error, error) {
		resp, err := model.Decode(env.Payload)
		if err != nil {
			return nil, err
		}
		if resp.ErrorInfo == nil {
			return nil, nil
		}
		return resp.ErrorInfo.Diagnostic(), nil
	})
}

// Close releases the transaction. It is idempotent; registered callbacks run on
// every call.
func (tx *Transaction) Close() error {
	return tx.close(tx)
}

// disposedByServer records a release done by the server as part of a commit.
func (tx *Transaction) disposedByServer() {
	tx.mu.Lock()
	if tx.state == Open {
		tx.state = Disposed
	}
	tx.mu.Unlock()
	tx.client.forget(tx)
}

// terminal reports whether a commit outcome is final: success or a server
// verdict. Transport failures and broken replies leave the outcome unknown.
func terminal(err error) bool {
	if err == nil {
		return true
	}
	var de *diagnostic.Error
	return stderrors.As(err, &de)
}
