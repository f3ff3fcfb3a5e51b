// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlclient

import (
	"context"
	"io"
	"os"

	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/errors"
	"dbwire/cli/internal/future"
	"dbwire/cli/internal/relation"
)

// OpenInputStream opens the bytes of a BLOB.
func (tx *Transaction) OpenInputStream(ctx context.Context, ref relation.BlobReference) future.Response[io.ReadCloser] {
	return tx.openLargeObject(ctx, ref.Provider, ref.ObjectID, false)
}

// OpenReader opens the UTF-8 text of a CLOB.
func (tx *Transaction) OpenReader(ctx context.Context, ref relation.ClobReference) future.Response[io.ReadCloser] {
	return tx.openLargeObject(ctx, ref.Provider, ref.ObjectID, true)
}

// CopyBlobTo writes the bytes of a BLOB to the local file at dest.
func (tx *Transaction) CopyBlobTo(ctx context.Context, ref relation.BlobReference, dest string) error {
	return copyTo(ctx, tx.OpenInputStream(ctx, ref), dest)
}

// CopyClobTo writes the text of a CLOB to the local file at dest.
func (tx *Transaction) CopyClobTo(ctx context.Context, ref relation.ClobReference, dest string) error {
	return copyTo(ctx, tx.OpenReader(ctx, ref), dest)
}

func (tx *Transaction) openLargeObject(ctx context.Context, provider, id uint64, clob bool) future.Response[io.ReadCloser] {
	if err := tx.checkOpen(); err != nil {
		return future.Failed[io.ReadCloser](err)
	}
	req := &model.Request{
		Op:          model.OpGetLargeObjectData,
		Transaction: tx.handle,
		Provider:    provider,
		ObjectID:    id,
		Clob:        clob,
	}
	ch := tx.client.ch
	openCtx := context.WithoutCancel(ctx)
	return send(ctx, tx.client, req, func(env *future.Envelope) (io.ReadCloser, error) {
		resp, err := model.Decode(env.Payload)
		if err != nil {
			return nil, err
		}
		switch {
		case env.SubChannel != "":
			return ch.OpenSubChannel(openCtx, env.SubChannel)
		case resp.Path != "":
			f, err := os.Open(resp.Path)
			if err != nil {
				return nil, errors.Wrap(errors.LargeObjectUnavailable, "opening large object file", err)
			}
			return f, nil
		}
		return nil, errors.Newf(errors.LargeObjectUnavailable, "large object %d/%d has no channel or path", provider, id)
	})
}

func copyTo(ctx context.Context, pending future.Response[io.ReadCloser], dest string) error {
	defer pending.Close()
	src, err := pending.Await(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return errors.Wrap(errors.Transport, "copying large object", err)
	}
	return f.Close()
}
