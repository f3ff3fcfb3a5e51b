// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(EnvEndpoint, "")
	t.Setenv(EnvLogLevel, "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c != Defaults() {
		t.Fatalf("Load = %+v", c)
	}
	if c.Session.CloseTimeout() != 2*time.Second || c.Disposal.AttemptTimeout() != 5*time.Second {
		t.Fatalf("durations = %s %s", c.Session.CloseTimeout(), c.Disposal.AttemptTimeout())
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := isolate(t)
	want := Defaults()
	want.Endpoint = "grpcs://db.example.com"
	want.Disposal.MaxAttempts = 9
	if err := Save(want); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dir, "dbwire", "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o", perm)
	}
	got, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("Load = %+v, want %+v", got, want)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	dir := isolate(t)
	p := filepath.Join(dir, "dbwire")
	if err := os.MkdirAll(p, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p, "config.json"), []byte(`{"session":{"close_timeout_ms":50}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.Session.CloseTimeout() != 50*time.Millisecond {
		t.Fatalf("close timeout = %s", c.Session.CloseTimeout())
	}
	if c.Session.RequestTimeoutMS != Defaults().Session.RequestTimeoutMS || c.LogLevel != "info" {
		t.Fatalf("defaults lost: %+v", c)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv(EnvEndpoint, "grpc://localhost:7000")
	t.Setenv(EnvLogLevel, "debug")
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.Endpoint != "grpc://localhost:7000" || c.LogLevel != "debug" {
		t.Fatalf("Load = %+v", c)
	}
}
