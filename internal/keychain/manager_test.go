// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package keychain

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
)

func TestAccessToken(t *testing.T) {
	m := NewManagerWithRing(keyring.NewArrayKeyring(nil))

	if _, err := m.LoadAccessToken(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store: want ErrNotFound, got %v", err)
	}
	if err := m.SaveAccessToken(""); err == nil {
		t.Fatal("saving an empty token succeeded")
	}
	if err := m.SaveAccessToken("tok-1"); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveAccessToken("tok-2"); err != nil {
		t.Fatal(err)
	}
	got, err := m.LoadAccessToken()
	if err != nil || got != "tok-2" {
		t.Fatalf("LoadAccessToken = %q, %v", got, err)
	}
}

func TestAuthState(t *testing.T) {
	m := NewManagerWithRing(keyring.NewArrayKeyring(nil))

	data, err := m.LoadAuthState()
	if err != nil || data != nil {
		t.Fatalf("empty store: %q, %v", data, err)
	}
	if err := m.SaveAuthState([]byte(`{"logged_in":true}`)); err != nil {
		t.Fatal(err)
	}
	data, err = m.LoadAuthState()
	if err != nil || string(data) != `{"logged_in":true}` {
		t.Fatalf("LoadAuthState = %q, %v", data, err)
	}
}

func TestClearAuth(t *testing.T) {
	m := NewManagerWithRing(keyring.NewArrayKeyring(nil))
	if err := m.SaveAccessToken("tok"); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveAuthState([]byte("{}")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := m.ClearAuth(); err != nil {
			t.Fatalf("ClearAuth %d: %v", i, err)
		}
	}
	if _, err := m.LoadAccessToken(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("token survived ClearAuth: %v", err)
	}
	if data, _ := m.LoadAuthState(); data != nil {
		t.Fatalf("state survived ClearAuth: %q", data)
	}
}

func TestSetManager(t *testing.T) {
	m := NewManagerWithRing(keyring.NewArrayKeyring(nil))
	SetManager(m)
	t.Cleanup(func() { SetManager(nil) })

	got, err := GetManager()
	if err != nil || got != m {
		t.Fatalf("GetManager = %p, %v", got, err)
	}
}
