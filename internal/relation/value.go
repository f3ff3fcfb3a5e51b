// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package relation

import (
	"fmt"
	"time"
)

// EntryType is the declared type of a value in a relation stream.
type EntryType int

const (
	EntryEndOfContents EntryType = iota
	EntryRow
	EntryArray
	EntryNull
	EntryBoolean
	EntryInt
	EntryFloat4
	EntryFloat8
	EntryDecimal
	EntryCharacter
	EntryOctet
	EntryBit
	EntryDate
	EntryTimeOfDay
	EntryTimePoint
	EntryTimeOfDayWithTimeZone
	EntryTimePointWithTimeZone
	EntryDateTimeInterval
	EntryBlob
	EntryClob
)

var entryNames = [...]string{
	EntryEndOfContents:         "END_OF_CONTENTS",
	EntryRow:                   "ROW",
	EntryArray:                 "ARRAY",
	EntryNull:                  "NULL",
	EntryBoolean:               "BOOLEAN",
	EntryInt:                   "INT",
	EntryFloat4:                "FLOAT4",
	EntryFloat8:                "FLOAT8",
	EntryDecimal:               "DECIMAL",
	EntryCharacter:             "CHARACTER",
	EntryOctet:                 "OCTET",
	EntryBit:                   "BIT",
	EntryDate:                  "DATE",
	EntryTimeOfDay:             "TIME_OF_DAY",
	EntryTimePoint:             "TIME_POINT",
	EntryTimeOfDayWithTimeZone: "TIME_OF_DAY_WITH_TIME_ZONE",
	EntryTimePointWithTimeZone: "TIME_POINT_WITH_TIME_ZONE",
	EntryDateTimeInterval:      "DATETIME_INTERVAL",
	EntryBlob:                  "BLOB",
	EntryClob:                  "CLOB",
}

func (t EntryType) String() string {
	if t < 0 || int(t) >= len(entryNames) {
		return fmt.Sprintf("EntryType(%d)", int(t))
	}
	return entryNames[t]
}

// BitArray is a packed sequence of bits, least significant bit first.
type BitArray struct {
	data []byte
	size int
}

// NewBitArray packs bits.
func NewBitArray(bits ...bool) BitArray {
	b := BitArray{data: make([]byte, (len(bits)+7)/8), size: len(bits)}
	for i, v := range bits {
		if v {
			b.data[i/8] |= 1 << (i % 8)
		}
	}
	return b
}

// BitArrayOf wraps already packed data. Bits past size are ignored.
func BitArrayOf(data []byte, size int) (BitArray, error) {
	if size < 0 || (size+7)/8 != len(data) {
		return BitArray{}, fmt.Errorf("bit array of size %d needs %d bytes, got %d", size, (size+7)/8, len(data))
	}
	return BitArray{data: data, size: size}, nil
}

// Len returns the number of bits.
func (b BitArray) Len() int { return b.size }

// Get returns bit i.
func (b BitArray) Get(i int) bool {
	if i < 0 || i >= b.size {
		panic(fmt.Sprintf("relation: bit index %d out of range [0,%d)", i, b.size))
	}
	return b.data[i/8]&(1<<(i%8)) != 0
}

// Bytes returns the packed representation.
func (b BitArray) Bytes() []byte { return b.data }

// Bools unpacks the bits.
func (b BitArray) Bools() []bool {
	out := make([]bool, b.size)
	for i := range out {
		out[i] = b.Get(i)
	}
	return out
}

// OffsetTime is a time of day with a time zone offset.
type OffsetTime struct {
	// TimeOfDay is the offset from midnight.
	TimeOfDay     time.Duration
	OffsetMinutes int32
}

// DateTimeInterval is a calendar interval.
type DateTimeInterval struct {
	Months      int32
	Days        int32
	Nanoseconds int64
}

// BlobReference points at a binary large object held by the server.
type BlobReference struct {
	Provider uint64
	ObjectID uint64
}

// ClobReference points at a character large object held by the server.
type ClobReference struct {
	Provider uint64
	ObjectID uint64
}

const secondsPerDay = 24 * 60 * 60

// epochDay returns the number of days since 1970-01-01 for the date of t.
func epochDay(t time.Time) int64 {
	y, m, d := t.Date()
	u := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
	return floorDiv(u, secondsPerDay)
}

func dateOf(days int64) time.Time {
	return time.Unix(days*secondsPerDay, 0).UTC()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
