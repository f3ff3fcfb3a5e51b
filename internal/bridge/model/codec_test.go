// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package model

import (
	stderrors "errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"dbwire/cli/internal/diagnostic"
	"dbwire/cli/internal/errors"
)

func TestRequestRoundTrip(t *testing.T) {
	in := &Request{
		Op:           OpExecutePreparedQuery,
		Transaction:  100,
		Statement:    7,
		Placeholders: []Placeholder{{Name: "id", Type: AtomInt8}, {Name: "name", Type: AtomCharacter}},
		Parameters:   []byte{0x01, 0x02, 0x05, 0x54},
	}
	out, err := UnmarshalRequest(in.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if out.Op != OpExecutePreparedQuery || out.Transaction != 100 || out.Statement != 7 {
		t.Fatalf("decoded %+v", out)
	}
	if len(out.Placeholders) != 2 || out.Placeholders[1].Name != "name" || out.Placeholders[1].Type != AtomCharacter {
		t.Fatalf("placeholders = %+v", out.Placeholders)
	}
	if string(out.Parameters) != string(in.Parameters) {
		t.Fatalf("parameters = %x", out.Parameters)
	}
}

func TestUnmarshalRequestRejectsEmpty(t *testing.T) {
	if _, err := UnmarshalRequest(nil); !errors.IsKind(err, errors.BrokenResponse) {
		t.Fatalf("want broken_response, got %v", err)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		wantCode diagnostic.Code
		wantKind errors.Kind
	}{
		{
			name:    "success",
			payload: (&Response{Handle: 100, TransactionID: "TID-1"}).Marshal(),
		},
		{
			name:     "server error",
			payload:  (&Response{Error: &Error{Status: 12, Detail: "duplicate key"}}).Marshal(),
			wantCode: diagnostic.UniqueConstraintViolation,
		},
		{
			name:     "unknown status",
			payload:  (&Response{Error: &Error{Status: 9999, Detail: "?"}}).Marshal(),
			wantCode: diagnostic.Unknown,
		},
		{
			name:     "truncated",
			payload:  (&Response{TransactionID: "TID-1"}).Marshal()[:3],
			wantKind: errors.BrokenResponse,
		},
		{
			name:     "group wire type",
			payload:  protowire.AppendTag(nil, 1, protowire.StartGroupType),
			wantKind: errors.BrokenResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Decode(tt.payload)
			switch {
			case tt.wantKind != "":
				if !errors.IsKind(err, tt.wantKind) {
					t.Fatalf("want %s, got %v", tt.wantKind, err)
				}
			case tt.name == "success":
				if err != nil || resp.Handle != 100 || resp.TransactionID != "TID-1" {
					t.Fatalf("Decode = %+v, %v", resp, err)
				}
			default:
				var de *diagnostic.Error
				if !stderrors.As(err, &de) {
					t.Fatalf("want *diagnostic.Error, got %T %v", err, err)
				}
				if de.Code != tt.wantCode {
					t.Fatalf("code = %s, want %s", de.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestUnknownStatusKeepsRawStatus(t *testing.T) {
	_, err := Decode((&Response{Error: &Error{Status: 9999}}).Marshal())
	var de *diagnostic.Error
	if !stderrors.As(err, &de) {
		t.Fatalf("got %v", err)
	}
	if !de.HasStatus || de.Status != 9999 {
		t.Fatalf("raw status lost: %+v", de)
	}
}

func TestCountersAndSkipsUnknownFields(t *testing.T) {
	b := (&Response{Counters: []Counter{{Kind: CounterInsertedRows, Value: 3}, {Kind: CounterDeletedRows, Value: 1}}}).Marshal()
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "from a newer server")
	resp, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Counters) != 2 || resp.Counters[0].Value != 3 || resp.Counters[1].Kind != CounterDeletedRows {
		t.Fatalf("counters = %+v", resp.Counters)
	}
}
