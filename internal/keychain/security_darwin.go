// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

//go:build darwin

package keychain

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// securityBackend stores secrets with the macOS security command. Entries use
// ServiceName as the account and the key as the service.
type securityBackend struct{}

func newSecurityBackend() (*securityBackend, error) {
	if _, err := exec.LookPath("security"); err != nil {
		return nil, fmt.Errorf("security command not found: %w", err)
	}
	return &securityBackend{}, nil
}

// security runs one security subcommand for key. notFound reports the
// item-not-found answer, which is not an error.
func (s *securityBackend) security(op, key string, extra ...string) (out string, notFound bool, err error) {
	args := append([]string{op, "-a", ServiceName, "-s", key}, extra...)
	cmd := exec.Command("security", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "could not be found") {
			return "", true, nil
		}
		return "", false, fmt.Errorf("keychain %s %q: %s: %w", op, key, strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), false, nil
}

// Set replaces the value stored under key.
func (s *securityBackend) Set(key, value string) error {
	if err := s.Delete(key); err != nil {
		return err
	}
	_, _, err := s.security("add-generic-password", key, "-w", value, "-U")
	return err
}

// Get returns the value stored under key, or ErrNotFound.
func (s *securityBackend) Get(key string) (string, error) {
	out, notFound, err := s.security("find-generic-password", key, "-w")
	if err != nil {
		return "", err
	}
	if notFound {
		return "", ErrNotFound
	}
	return strings.TrimSpace(out), nil
}

// Delete removes key. A missing key is not an error.
func (s *securityBackend) Delete(key string) error {
	_, _, err := s.security("delete-generic-password", key)
	return err
}
