// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package auth manages the bearer credentials used to open sessions. Tokens
// live in the OS keychain; the accompanying state records which endpoint a
// token belongs to and when it expires.
package auth

import (
	"time"

	"dbwire/cli/internal/errors"
	"dbwire/cli/internal/keychain"
)

// Service centralizes credential operations against secure storage.
type Service struct {
	km  *keychain.Manager
	now func() time.Time
}

// NewService returns a Service storing credentials in km.
func NewService(km *keychain.Manager) *Service {
	return &Service{km: km, now: time.Now}
}

// Login stores token for endpoint. A zero ttl never expires.
func (s *Service) Login(account, endpoint, token string, ttl time.Duration) error {
	if err := s.km.SaveAccessToken(token); err != nil {
		return err
	}
	st := State{LoggedIn: true, Account: account, Endpoint: endpoint, IssuedAt: s.now()}
	if ttl > 0 {
		st.ExpiresAt = s.now().Add(ttl)
	}
	return Save(s.km, st)
}

// Logout clears stored credentials and state.
func (s *Service) Logout() error {
	return s.km.ClearAuth()
}

// WhoAmI returns the stored state. Expired credentials are cleared and
// reported as logged out.
func (s *Service) WhoAmI() (State, error) {
	st, err := Load(s.km)
	if err != nil {
		return State{}, err
	}
	if st.LoggedIn && st.Expired(s.now()) {
		return State{}, s.Logout()
	}
	return st, nil
}

// Token returns the bearer token for endpoint. It fails with an
// unauthenticated error when no valid token is stored for that endpoint.
func (s *Service) Token(endpoint string) (string, error) {
	st, err := s.WhoAmI()
	if err != nil {
		return "", err
	}
	if !st.LoggedIn {
		return "", errors.New(errors.Unauthenticated, "not logged in; run 'dbwire login'")
	}
	if !st.For(endpoint) {
		return "", errors.Newf(errors.Unauthenticated, "stored token belongs to %s", st.Endpoint)
	}
	token, err := s.km.LoadAccessToken()
	if err != nil {
		return "", errors.Wrap(errors.Unauthenticated, "loading access token", err)
	}
	return token, nil
}
