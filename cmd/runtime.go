// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/pterm/pterm"

	"dbwire/cli/internal/auth"
	"dbwire/cli/internal/config"
	"dbwire/cli/internal/diagnostic"
	"dbwire/cli/internal/endpoint"
	"dbwire/cli/internal/future"
	"dbwire/cli/internal/keychain"
	"dbwire/cli/internal/logging"
	"dbwire/cli/internal/session"
	"dbwire/cli/internal/sqlclient"
)

var errNoEndpoint = stderrors.New("no endpoint configured; run 'dbwire connect <endpoint>' or pass --endpoint")

// loadRuntime reads the configuration and builds the logger, honoring the
// global flags.
func loadRuntime() (config.Config, *pterm.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	level := cfg.LogLevel
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	if verbose {
		level = "debug"
	}
	return cfg, logging.New(level), nil
}

// resolveEndpoint returns the endpoint from --endpoint or the configuration.
func resolveEndpoint(cfg config.Config) (*endpoint.Info, error) {
	raw := endpointFlag
	if raw == "" {
		raw = cfg.Endpoint
	}
	if raw == "" {
		return nil, errNoEndpoint
	}
	return endpoint.Parse(raw)
}

// credentialKey identifies an endpoint in stored credentials. It never
// contains inline credentials.
func credentialKey(ep *endpoint.Info) string {
	return string(ep.Scheme) + "://" + ep.Address()
}

// openSession connects to the resolved endpoint. A token stored by
// 'dbwire login' is used unless the endpoint carries one inline.
func openSession() (*session.Session, *pterm.Logger, error) {
	cfg, log, err := loadRuntime()
	if err != nil {
		return nil, nil, err
	}
	ep, err := resolveEndpoint(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts := session.FromConfig(cfg, log)
	if ep.Token == "" {
		if km, err := keychain.GetManager(); err == nil {
			token, err := auth.NewService(km).Token(credentialKey(ep))
			if err != nil {
				log.Debug("connecting without a stored token", log.Args("reason", err.Error()))
			} else {
				opts.Token = token
			}
		}
	}
	s, err := session.Open(ep, opts)
	if err != nil {
		return nil, nil, err
	}
	return s, log, nil
}

// await waits for resp within the session's request timeout.
func await[T any](ctx context.Context, s *session.Session, resp future.Response[T]) (T, error) {
	if d := s.RequestTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return resp.Await(ctx)
}

// txRunner runs a unit of work in a transaction, retrying the whole
// transaction when the server reports a serialization conflict.
type txRunner struct {
	session *session.Session
	log     *pterm.Logger
	opts    sqlclient.TransactionOptions
	status  sqlclient.CommitOptions
	retries int
	backoff time.Duration
}

// run begins a transaction, calls fn and commits. fn's error rolls the
// transaction back. The transaction is always closed before run returns.
func (r txRunner) run(ctx context.Context, fn func(*sqlclient.Transaction) error) error {
	for attempt := 0; ; attempt++ {
		err := r.once(ctx, fn)
		if err == nil || diagnostic.ActionOf(err) != diagnostic.RetryTransaction || attempt >= r.retries {
			return err
		}
		r.log.Warn("transaction conflict, retrying", r.log.Args("attempt", attempt+1, "code", diagnostic.CodeOf(err).String()))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(r.backoff):
		}
	}
}

func (r txRunner) once(ctx context.Context, fn func(*sqlclient.Transaction) error) error {
	tx, err := await(ctx, r.session, r.session.Client().Begin(ctx, r.opts))
	if err != nil {
		return err
	}
	defer tx.Close()
	r.log.Debug("transaction started", r.log.Args("id", tx.ID(), "type", r.opts.Type.String()))

	if err := fn(tx); err != nil {
		if _, rerr := await(ctx, r.session, tx.Rollback(ctx)); rerr != nil {
			r.log.Debug("rollback failed", r.log.Args("error", rerr.Error()))
		}
		return err
	}
	opts := r.status
	opts.AutoDispose = true
	_, err = await(ctx, r.session, tx.Commit(ctx, opts))
	return err
}
