// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package config loads and stores CLI configuration in the XDG config dir.
// Only non-secret settings are kept here; tokens go to the OS keychain.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"dbwire/cli/internal/xdg"
)

// Environment overrides.
const (
	EnvEndpoint = "DBWIRE_ENDPOINT"
	EnvLogLevel = "DBWIRE_LOG_LEVEL"
)

// Config holds non-sensitive CLI settings.
type Config struct {
	LogLevel string         `json:"log_level"`
	Endpoint string         `json:"endpoint"`
	Session  SessionConfig  `json:"session"`
	Disposal DisposalConfig `json:"disposal"`
}

// SessionConfig bounds waits on the session. Durations are in milliseconds.
type SessionConfig struct {
	RequestTimeoutMS  int `json:"request_timeout_ms"`
	CloseTimeoutMS    int `json:"close_timeout_ms"`
	ShutdownTimeoutMS int `json:"shutdown_timeout_ms"`
}

// DisposalConfig tunes the background release of server handles.
type DisposalConfig struct {
	AttemptTimeoutMS int `json:"attempt_timeout_ms"`
	MaxAttempts      int `json:"max_attempts"`
	RetryIntervalMS  int `json:"retry_interval_ms"`
}

// Defaults returns the configuration used when no file exists.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Session: SessionConfig{
			RequestTimeoutMS:  30_000,
			CloseTimeoutMS:    2_000,
			ShutdownTimeoutMS: 10_000,
		},
		Disposal: DisposalConfig{
			AttemptTimeoutMS: 5_000,
			MaxAttempts:      5,
			RetryIntervalMS:  200,
		},
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (s SessionConfig) RequestTimeout() time.Duration  { return ms(s.RequestTimeoutMS) }
func (s SessionConfig) CloseTimeout() time.Duration    { return ms(s.CloseTimeoutMS) }
func (s SessionConfig) ShutdownTimeout() time.Duration { return ms(s.ShutdownTimeoutMS) }

func (d DisposalConfig) AttemptTimeout() time.Duration { return ms(d.AttemptTimeoutMS) }
func (d DisposalConfig) RetryInterval() time.Duration  { return ms(d.RetryIntervalMS) }

// path returns the path to the config file.
func path() (string, error) {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads configuration; a missing file returns defaults. Unset fields keep
// their defaults and environment overrides are applied last.
func Load() (Config, error) {
	c := Defaults()
	p, err := path()
	if err != nil {
		return c, err
	}
	data, err := os.ReadFile(p)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return c, err
	}
	if err == nil {
		if err := json.Unmarshal(data, &c); err != nil {
			return c, err
		}
	}
	applyEnv(&c)
	return c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv(EnvEndpoint); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Save writes configuration with 0600 permissions.
func Save(c Config) error {
	p, err := path()
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o600)
}
