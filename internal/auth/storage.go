// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package auth

import (
	"encoding/json"
	"time"

	"dbwire/cli/internal/keychain"
)

// stateVersion is bumped whenever State changes shape. State written by an
// older layout is ignored on load and the user logs in again.
const stateVersion = 1

// State is the persisted record describing the stored bearer token.
type State struct {
	Version  int    `json:"version"`
	LoggedIn bool   `json:"logged_in"`
	Account  string `json:"account"`
	// Endpoint is scheme://host:port of the service the token was issued for.
	Endpoint  string    `json:"endpoint"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the stored token has passed its expiry.
func (s State) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// For reports whether the token may be sent to endpoint. State without an
// endpoint matches any.
func (s State) For(endpoint string) bool {
	return s.Endpoint == "" || s.Endpoint == endpoint
}

// Load reads the auth state from km. Missing or outdated state yields the
// zero value.
func Load(km *keychain.Manager) (State, error) {
	data, err := km.LoadAuthState()
	if err != nil || len(data) == 0 {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, err
	}
	if s.Version != stateVersion {
		return State{}, nil
	}
	return s, nil
}

// Save writes s to km under the current layout version.
func Save(km *keychain.Manager, s State) error {
	s.Version = stateVersion
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return km.SaveAuthState(b)
}
