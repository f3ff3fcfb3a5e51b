// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package xdg resolves XDG Base Directory paths for dbwire.
//
// Directories fall back to the traditional locations when the XDG environment
// variables are unset and are created with private permissions.
package xdg

import (
	"os"
	"path/filepath"
)

// App is the directory name used under every base directory.
const App = "dbwire"

// ConfigDir returns the XDG config directory for dbwire, creating it with
// 0700 permissions if missing. It falls back to ~/.config/dbwire.
func ConfigDir() (string, error) {
	return dir("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the XDG state directory for dbwire, creating it with 0700
// permissions if missing. It falls back to ~/.local/state/dbwire.
func StateDir() (string, error) {
	return dir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// CacheDir returns the XDG cache directory for dbwire. Large objects copied
// without an explicit destination land here. It falls back to ~/.cache/dbwire.
func CacheDir() (string, error) {
	return dir("XDG_CACHE_HOME", ".cache")
}

func dir(env, fallback string) (string, error) {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, fallback)
	}
	d := filepath.Join(base, App)
	if err := os.MkdirAll(d, 0o700); err != nil { // private dir
		return "", err
	}
	return d, nil
}
