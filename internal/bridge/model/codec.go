// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package model

import (
	"google.golang.org/protobuf/encoding/protowire"

	"dbwire/cli/internal/diagnostic"
	"dbwire/cli/internal/errors"
)

// field numbers of operation bodies
const (
	fTransaction     protowire.Number = 1
	fStatement       protowire.Number = 2
	fSQL             protowire.Number = 3
	fPlaceholder     protowire.Number = 4
	fParameters      protowire.Number = 5
	fTransactionType protowire.Number = 6
	fLabel           protowire.Number = 7
	fWritePreserve   protowire.Number = 8
	fCommitStatus    protowire.Number = 9
	fAutoDispose     protowire.Number = 10
	fProvider        protowire.Number = 11
	fObjectID        protowire.Number = 12
	fClob            protowire.Number = 13

	fPlaceholderName protowire.Number = 1
	fPlaceholderType protowire.Number = 2
)

// field numbers of responses
const (
	rError         protowire.Number = 1
	rHandle        protowire.Number = 2
	rTransactionID protowire.Number = 3
	rCounter       protowire.Number = 4
	rStatus        protowire.Number = 5
	rStatusMessage protowire.Number = 6
	rHasRecords    protowire.Number = 7
	rErrorInfo     protowire.Number = 8
	rPath          protowire.Number = 9

	errStatus protowire.Number = 1
	errDetail protowire.Number = 2

	counterKind  protowire.Number = 1
	counterValue protowire.Number = 2
)

func appendUint(b []byte, n protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, n protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, n protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendString(b []byte, n protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, n protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// Marshal encodes the request.
func (r *Request) Marshal() []byte {
	var body []byte
	body = appendUint(body, fTransaction, r.Transaction)
	body = appendUint(body, fStatement, r.Statement)
	body = appendString(body, fSQL, r.SQL)
	for _, p := range r.Placeholders {
		var pb []byte
		pb = appendString(pb, fPlaceholderName, p.Name)
		pb = appendUint(pb, fPlaceholderType, uint64(p.Type))
		body = protowire.AppendTag(body, fPlaceholder, protowire.BytesType)
		body = protowire.AppendBytes(body, pb)
	}
	body = appendBytes(body, fParameters, r.Parameters)
	body = appendUint(body, fTransactionType, uint64(r.TransactionType))
	body = appendString(body, fLabel, r.Label)
	for _, t := range r.WritePreserve {
		body = protowire.AppendTag(body, fWritePreserve, protowire.BytesType)
		body = protowire.AppendString(body, t)
	}
	body = appendUint(body, fCommitStatus, uint64(r.CommitStatus))
	body = appendBool(body, fAutoDispose, r.AutoDispose)
	body = appendUint(body, fProvider, r.Provider)
	body = appendUint(body, fObjectID, r.ObjectID)
	body = appendBool(body, fClob, r.Clob)

	b := protowire.AppendTag(nil, protowire.Number(r.Op), protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// UnmarshalRequest decodes a request. Servers and test doubles use it.
func UnmarshalRequest(b []byte) (*Request, error) {
	r := &Request{}
	seen := false
	err := walk(b, func(n protowire.Number, t protowire.Type, v []byte, u uint64) error {
		if t != protowire.BytesType {
			return nil
		}
		if seen {
			return errors.New(errors.BrokenResponse, "request carries more than one operation")
		}
		seen = true
		r.Op = Op(n)
		return walk(v, r.field)
	})
	if err != nil {
		return nil, err
	}
	if !seen {
		return nil, errors.New(errors.BrokenResponse, "request carries no operation")
	}
	return r, nil
}

func (r *Request) field(n protowire.Number, t protowire.Type, v []byte, u uint64) error {
	switch n {
	case fTransaction:
		r.Transaction = u
	case fStatement:
		r.Statement = u
	case fSQL:
		r.SQL = string(v)
	case fPlaceholder:
		var p Placeholder
		if err := walk(v, func(n protowire.Number, _ protowire.Type, v []byte, u uint64) error {
			switch n {
			case fPlaceholderName:
				p.Name = string(v)
			case fPlaceholderType:
				p.Type = AtomType(u)
			}
			return nil
		}); err != nil {
			return err
		}
		r.Placeholders = append(r.Placeholders, p)
	case fParameters:
		r.Parameters = append([]byte(nil), v...)
	case fTransactionType:
		r.TransactionType = TransactionType(u)
	case fLabel:
		r.Label = string(v)
	case fWritePreserve:
		r.WritePreserve = append(r.WritePreserve, string(v))
	case fCommitStatus:
		r.CommitStatus = CommitStatus(u)
	case fAutoDispose:
		r.AutoDispose = u != 0
	case fProvider:
		r.Provider = u
	case fObjectID:
		r.ObjectID = u
	case fClob:
		r.Clob = u != 0
	}
	return nil
}

// Marshal encodes the response.
func (r *Response) Marshal() []byte {
	var b []byte
	if r.Error != nil {
		b = protowire.AppendTag(b, rError, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Error.marshal())
	}
	b = appendUint(b, rHandle, r.Handle)
	b = appendString(b, rTransactionID, r.TransactionID)
	for _, c := range r.Counters {
		var cb []byte
		cb = appendUint(cb, counterKind, uint64(c.Kind))
		cb = appendSint(cb, counterValue, c.Value)
		b = protowire.AppendTag(b, rCounter, protowire.BytesType)
		b = protowire.AppendBytes(b, cb)
	}
	b = appendUint(b, rStatus, uint64(r.Status))
	b = appendString(b, rStatusMessage, r.StatusMessage)
	b = appendBool(b, rHasRecords, r.HasResultRecords)
	if r.ErrorInfo != nil {
		b = protowire.AppendTag(b, rErrorInfo, protowire.BytesType)
		b = protowire.AppendBytes(b, r.ErrorInfo.marshal())
	}
	b = appendString(b, rPath, r.Path)
	return b
}

func (e *Error) marshal() []byte {
	var b []byte
	b = appendUint(b, errStatus, uint64(e.Status))
	return appendString(b, errDetail, e.Detail)
}

// Err returns the server error carried by the response, if any.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error.Diagnostic()
}

// Diagnostic converts the error into its taxonomy form.
func (e *Error) Diagnostic() *diagnostic.Error {
	return diagnostic.FromWire(e.Status, e.Detail)
}

// UnmarshalResponse decodes a response payload. Malformed payloads are reported
// as BrokenResponse.
func UnmarshalResponse(b []byte) (*Response, error) {
	r := &Response{}
	err := walk(b, func(n protowire.Number, t protowire.Type, v []byte, u uint64) error {
		switch n {
		case rError:
			e, err := unmarshalError(v)
			if err != nil {
				return err
			}
			r.Error = e
		case rHandle:
			r.Handle = u
		case rTransactionID:
			r.TransactionID = string(v)
		case rCounter:
			var c Counter
			if err := walk(v, func(n protowire.Number, _ protowire.Type, _ []byte, u uint64) error {
				switch n {
				case counterKind:
					c.Kind = CounterKind(u)
				case counterValue:
					c.Value = protowire.DecodeZigZag(u)
				}
				return nil
			}); err != nil {
				return err
			}
			r.Counters = append(r.Counters, c)
		case rStatus:
			r.Status = TransactionStatus(u)
		case rStatusMessage:
			r.StatusMessage = string(v)
		case rHasRecords:
			r.HasResultRecords = u != 0
		case rErrorInfo:
			e, err := unmarshalError(v)
			if err != nil {
				return err
			}
			r.ErrorInfo = e
		case rPath:
			r.Path = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func unmarshalError(b []byte) (*Error, error) {
	e := &Error{}
	err := walk(b, func(n protowire.Number, _ protowire.Type, v []byte, u uint64) error {
		switch n {
		case errStatus:
			e.Status = uint32(u)
		case errDetail:
			e.Detail = string(v)
		}
		return nil
	})
	return e, err
}

// Decode unmarshals a primary payload and classifies it: a well-formed success
// response, a server error, or a broken response.
func Decode(b []byte) (*Response, error) {
	r, err := UnmarshalResponse(b)
	if err != nil {
		return nil, err
	}
	if err := r.Err(); err != nil {
		return r, err
	}
	return r, nil
}

// walk calls fn for every field of a message. Varint and fixed fields are passed
// as u, length-delimited fields as v. Groups are rejected.
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte, uint64) error) error {
	for len(b) > 0 {
		n, t, m := protowire.ConsumeTag(b)
		if m < 0 {
			return broken(m)
		}
		b = b[m:]
		var (
			v []byte
			u uint64
		)
		switch t {
		case protowire.VarintType:
			u, m = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var x uint32
			x, m = protowire.ConsumeFixed32(b)
			u = uint64(x)
		case protowire.Fixed64Type:
			u, m = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			v, m = protowire.ConsumeBytes(b)
		default:
			return errors.Newf(errors.BrokenResponse, "unsupported wire type %d for field %d", t, n)
		}
		if m < 0 {
			return broken(m)
		}
		b = b[m:]
		if err := fn(n, t, v, u); err != nil {
			return err
		}
	}
	return nil
}

func broken(code int) error {
	return errors.Wrap(errors.BrokenResponse, "malformed message", protowire.ParseError(code))
}
