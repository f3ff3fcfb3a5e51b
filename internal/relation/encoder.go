// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package relation

import (
	"io"
	"math"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"google.golang.org/protobuf/encoding/protowire"
)

// header bytes of the relation stream
const (
	headerEndOfContents byte = 0x00
	headerRow           byte = 0x01
	headerArray         byte = 0x02
	headerNull          byte = 0x03
	headerBoolean       byte = 0x04
	headerInt           byte = 0x05
	headerFloat4        byte = 0x06
	headerFloat8        byte = 0x07
	headerDecimal       byte = 0x08
	headerDecimalInt64  byte = 0x09
	headerCharacter     byte = 0x0a
	headerOctet         byte = 0x0b
	headerBit           byte = 0x0c
	headerDate          byte = 0x0d
	headerTimeOfDay     byte = 0x0e
	headerTimePoint     byte = 0x0f
	headerTimeOfDayTZ   byte = 0x10
	headerTimePointTZ   byte = 0x11
	headerInterval      byte = 0x12
	headerBlob          byte = 0x13
	headerClob          byte = 0x14
)

func entryOf(h byte) (EntryType, bool) {
	switch h {
	case headerEndOfContents:
		return EntryEndOfContents, true
	case headerRow:
		return EntryRow, true
	case headerArray:
		return EntryArray, true
	case headerNull:
		return EntryNull, true
	case headerBoolean:
		return EntryBoolean, true
	case headerInt:
		return EntryInt, true
	case headerFloat4:
		return EntryFloat4, true
	case headerFloat8:
		return EntryFloat8, true
	case headerDecimal, headerDecimalInt64:
		return EntryDecimal, true
	case headerCharacter:
		return EntryCharacter, true
	case headerOctet:
		return EntryOctet, true
	case headerBit:
		return EntryBit, true
	case headerDate:
		return EntryDate, true
	case headerTimeOfDay:
		return EntryTimeOfDay, true
	case headerTimePoint:
		return EntryTimePoint, true
	case headerTimeOfDayTZ:
		return EntryTimeOfDayWithTimeZone, true
	case headerTimePointTZ:
		return EntryTimePointWithTimeZone, true
	case headerInterval:
		return EntryDateTimeInterval, true
	case headerBlob:
		return EntryBlob, true
	case headerClob:
		return EntryClob, true
	}
	return 0, false
}

// Encoder writes a relation stream. Values are buffered until Flush.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the encoded bytes written so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// Reset discards the buffered bytes.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Flush writes the buffered bytes to w and resets the encoder.
func (e *Encoder) Flush(w io.Writer) error {
	if len(e.buf) == 0 {
		return nil
	}
	_, err := w.Write(e.buf)
	e.Reset()
	return err
}

func (e *Encoder) sint(v int64) {
	e.buf = protowire.AppendVarint(e.buf, protowire.EncodeZigZag(v))
}

func (e *Encoder) uint(v uint64) {
	e.buf = protowire.AppendVarint(e.buf, v)
}

// WriteRowBegin starts a row of n columns.
func (e *Encoder) WriteRowBegin(n int) *Encoder {
	e.buf = append(e.buf, headerRow)
	e.uint(uint64(n))
	return e
}

// WriteArrayBegin starts an array of n elements.
func (e *Encoder) WriteArrayBegin(n int) *Encoder {
	e.buf = append(e.buf, headerArray)
	e.uint(uint64(n))
	return e
}

// WriteEndOfContents terminates the relation.
func (e *Encoder) WriteEndOfContents() *Encoder {
	e.buf = append(e.buf, headerEndOfContents)
	return e
}

func (e *Encoder) WriteNull() *Encoder {
	e.buf = append(e.buf, headerNull)
	return e
}

func (e *Encoder) WriteBoolean(v bool) *Encoder {
	b := byte(0)
	if v {
		b = 1
	}
	e.buf = append(e.buf, headerBoolean, b)
	return e
}

func (e *Encoder) WriteInt(v int64) *Encoder {
	e.buf = append(e.buf, headerInt)
	e.sint(v)
	return e
}

func (e *Encoder) WriteFloat4(v float32) *Encoder {
	e.buf = append(e.buf, headerFloat4)
	e.buf = protowire.AppendFixed32(e.buf, math.Float32bits(v))
	return e
}

func (e *Encoder) WriteFloat8(v float64) *Encoder {
	e.buf = append(e.buf, headerFloat8)
	e.buf = protowire.AppendFixed64(e.buf, math.Float64bits(v))
	return e
}

// WriteDecimal writes an exact decimal. Unscaled values that fit in int64 use
// the compact form.
func (e *Encoder) WriteDecimal(v pgtype.Numeric) *Encoder {
	if !v.Valid {
		return e.WriteNull()
	}
	unscaled := v.Int
	if unscaled == nil {
		unscaled = new(big.Int)
	}
	if unscaled.IsInt64() {
		e.buf = append(e.buf, headerDecimalInt64)
		e.sint(unscaled.Int64())
		e.sint(int64(v.Exp))
		return e
	}
	e.buf = append(e.buf, headerDecimal)
	e.buf = protowire.AppendBytes(e.buf, twosComplement(unscaled))
	e.sint(int64(v.Exp))
	return e
}

func (e *Encoder) WriteCharacter(v string) *Encoder {
	e.buf = append(e.buf, headerCharacter)
	e.buf = protowire.AppendString(e.buf, v)
	return e
}

func (e *Encoder) WriteOctet(v []byte) *Encoder {
	e.buf = append(e.buf, headerOctet)
	e.buf = protowire.AppendBytes(e.buf, v)
	return e
}

func (e *Encoder) WriteBit(v BitArray) *Encoder {
	e.buf = append(e.buf, headerBit)
	e.uint(uint64(v.Len()))
	e.buf = append(e.buf, v.Bytes()...)
	return e
}

// WriteDate writes the calendar date of v as a day count from 1970-01-01.
func (e *Encoder) WriteDate(v time.Time) *Encoder {
	e.buf = append(e.buf, headerDate)
	e.sint(epochDay(v))
	return e
}

// WriteTimeOfDay writes an offset from midnight.
func (e *Encoder) WriteTimeOfDay(v time.Duration) *Encoder {
	e.buf = append(e.buf, headerTimeOfDay)
	e.uint(uint64(v))
	return e
}

// WriteTimePoint writes v as (seconds, nanosecond adjustment) since the epoch.
func (e *Encoder) WriteTimePoint(v time.Time) *Encoder {
	e.buf = append(e.buf, headerTimePoint)
	e.sint(v.Unix())
	e.uint(uint64(v.Nanosecond()))
	return e
}

func (e *Encoder) WriteTimeOfDayWithTimeZone(v OffsetTime) *Encoder {
	e.buf = append(e.buf, headerTimeOfDayTZ)
	e.uint(uint64(v.TimeOfDay))
	e.sint(int64(v.OffsetMinutes))
	return e
}

// WriteTimePointWithTimeZone writes v with the offset of its location.
func (e *Encoder) WriteTimePointWithTimeZone(v time.Time) *Encoder {
	_, offset := v.Zone()
	e.buf = append(e.buf, headerTimePointTZ)
	e.sint(v.Unix())
	e.uint(uint64(v.Nanosecond()))
	e.sint(int64(offset / 60))
	return e
}

func (e *Encoder) WriteDateTimeInterval(v DateTimeInterval) *Encoder {
	e.buf = append(e.buf, headerInterval)
	e.sint(int64(v.Months))
	e.sint(int64(v.Days))
	e.sint(v.Nanoseconds)
	return e
}

func (e *Encoder) WriteBlob(v BlobReference) *Encoder {
	e.buf = append(e.buf, headerBlob)
	e.uint(v.Provider)
	e.uint(v.ObjectID)
	return e
}

func (e *Encoder) WriteClob(v ClobReference) *Encoder {
	e.buf = append(e.buf, headerClob)
	e.uint(v.Provider)
	e.uint(v.ObjectID)
	return e
}

// twosComplement returns the minimal big-endian two's complement form of v.
func twosComplement(v *big.Int) []byte {
	if v.Sign() >= 0 {
		n := v.BitLen()/8 + 1
		return v.FillBytes(make([]byte, n))
	}
	m := new(big.Int).Neg(v)
	m.Sub(m, big.NewInt(1))
	n := m.BitLen()/8 + 1
	mod := new(big.Int).Lsh(big.NewInt(1), uint(8*n))
	return mod.Add(mod, v).FillBytes(make([]byte, n))
}

func fromTwosComplement(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(8*len(b))))
	}
	return v
}
