// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package session ties a transport channel, its disposal coordinator and the
// SQL client together and closes them in order.
package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"google.golang.org/grpc"

	"dbwire/cli/internal/bridge"
	"dbwire/cli/internal/bridge/grpcclient"
	"dbwire/cli/internal/config"
	"dbwire/cli/internal/disposer"
	"dbwire/cli/internal/endpoint"
	"dbwire/cli/internal/logging"
	"dbwire/cli/internal/sqlclient"
)

// DefaultShutdownTimeout bounds how long Close waits for pending releases.
const DefaultShutdownTimeout = 10 * time.Second

// Options configures a Session.
type Options struct {
	// RequestTimeout is the default bound callers apply to awaits.
	RequestTimeout  time.Duration
	CloseTimeout    time.Duration
	ShutdownTimeout time.Duration
	Disposal        disposer.Options
	Logger          *pterm.Logger

	// Token is the bearer token sent by Open. Inline endpoint credentials
	// take precedence.
	Token       string
	DialOptions []grpc.DialOption
}

// FromConfig builds Options from the loaded configuration.
func FromConfig(cfg config.Config, log *pterm.Logger) Options {
	return Options{
		RequestTimeout:  cfg.Session.RequestTimeout(),
		CloseTimeout:    cfg.Session.CloseTimeout(),
		ShutdownTimeout: cfg.Session.ShutdownTimeout(),
		Disposal: disposer.Options{
			AttemptTimeout: cfg.Disposal.AttemptTimeout(),
			MaxAttempts:    cfg.Disposal.MaxAttempts,
			RetryInterval:  cfg.Disposal.RetryInterval(),
			Logger:         log,
		},
		Logger: log,
	}
}

// Session owns one channel and everything that depends on it.
type Session struct {
	ch     bridge.Channel
	coord  *disposer.Coordinator
	client *sqlclient.Client
	opts   Options
	log    *pterm.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open dials ep over gRPC and starts a session on it.
func Open(ep *endpoint.Info, opts Options) (*Session, error) {
	token := opts.Token
	if ep.Token != "" {
		token = ep.Token
	}
	ch, err := grpcclient.Dial(grpcclient.Options{
		Address:     ep.Address(),
		Insecure:    !ep.TLS(),
		Token:       token,
		DialOptions: opts.DialOptions,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	s := New(ch, opts)
	s.log.Debug("session opened", s.log.Args("endpoint", logging.Mask(ep.String()), "label", ep.Label))
	return s, nil
}

// New starts a session on an existing channel. The session owns ch.
func New(ch bridge.Channel, opts Options) *Session {
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	log := logging.OrDiscard(opts.Logger)
	if opts.Disposal.Logger == nil {
		opts.Disposal.Logger = log
	}
	coord := disposer.New(opts.Disposal)
	return &Session{
		ch:     ch,
		coord:  coord,
		client: sqlclient.New(ch, coord, sqlclient.Options{CloseTimeout: opts.CloseTimeout, Logger: log}),
		opts:   opts,
		log:    log,
	}
}

// Client returns the SQL client of the session.
func (s *Session) Client() *sqlclient.Client { return s.client }

// Channel returns the transport.
func (s *Session) Channel() bridge.Channel { return s.ch }

// RequestTimeout returns the configured await bound.
func (s *Session) RequestTimeout() time.Duration { return s.opts.RequestTimeout }

// Err returns the fatal error of the session, if any. A session whose
// coordinator gave up can no longer release server handles reliably.
func (s *Session) Err() error { return s.coord.Err() }

// PendingDisposals returns how many releases still await confirmation.
func (s *Session) PendingDisposals() int { return s.coord.Pending() }

// Close closes every open handle, waits up to the shutdown timeout for the
// background releases, then closes the channel. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.log.Debug("closing session", s.log.Args("open_handles", s.client.OpenHandles()))
		clientErr := s.client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		shutdownErr := s.coord.Shutdown(ctx)
		cancel()
		if shutdownErr != nil {
			s.log.Warn("pending releases abandoned", s.log.Args("error", shutdownErr.Error()))
		}

		s.closeErr = stderrors.Join(clientErr, shutdownErr, s.ch.Close())
		s.log.Debug("session closed")
	})
	return s.closeErr
}
