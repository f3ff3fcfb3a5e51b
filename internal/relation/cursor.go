// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package relation decodes and encodes the streamed relations returned by
// queries. A relation is a forward-only sequence of rows; each row is a sequence
// of self-describing column values, which may themselves be arrays or rows.
//
// StreamCursor walks a relation one row and one column at a time. Every column
// value can be read once: positioning is explicit (NextRow, NextColumn), a
// second read of the same column fails with a not-ready error, reading with an
// accessor that does not match the declared type fails with a type mismatch,
// and unread values are skipped by type when the caller moves on.
//
// A StreamCursor is not safe for concurrent use.
package relation

import (
	"bufio"
	"bytes"
	"encoding/binary"
	stderrors "errors"
	"io"
	"math"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"google.golang.org/protobuf/encoding/protowire"

	"dbwire/cli/internal/errors"
)

// Cursor is the read side of a relation.
type Cursor interface {
	NextRow() (bool, error)
	NextColumn() (bool, error)
	IsNull() (bool, error)
	FetchBooleanValue() (bool, error)
	FetchInt4Value() (int32, error)
	FetchInt8Value() (int64, error)
	FetchFloat4Value() (float32, error)
	FetchFloat8Value() (float64, error)
	FetchDecimalValue() (pgtype.Numeric, error)
	FetchCharacterValue() (string, error)
	FetchOctetValue() ([]byte, error)
	FetchBitValue() (BitArray, error)
	FetchDateValue() (time.Time, error)
	FetchTimeOfDayValue() (time.Duration, error)
	FetchTimePointValue() (time.Time, error)
	FetchTimeOfDayWithTimeZoneValue() (OffsetTime, error)
	FetchTimePointWithTimeZoneValue() (time.Time, error)
	FetchDateTimeIntervalValue() (DateTimeInterval, error)
	FetchBlob() (BlobReference, error)
	FetchClob() (ClobReference, error)
	BeginArrayValue() (int, error)
	EndArrayValue() error
	BeginRowValue() (int, error)
	EndRowValue() error
	Close() error
}

// columnState is the position of the cursor within the current frame.
type columnState int

const (
	// stateBeforeRow: no row is open.
	stateBeforeRow columnState = iota
	// stateBeforeColumn: a row or nested value is open, no column selected.
	stateBeforeColumn
	// stateReady: on a column whose value has not been read.
	stateReady
	// stateConsumed: on a column whose value has been read or skipped.
	stateConsumed
	// stateFrameEnd: NextColumn returned false for the innermost frame.
	stateFrameEnd
	// stateEnd: the relation is exhausted.
	stateEnd
	stateClosed
)

type frameKind int

const (
	frameTopRow frameKind = iota
	frameArray
	frameRow
)

func (k frameKind) String() string {
	switch k {
	case frameTopRow:
		return "row"
	case frameArray:
		return "array value"
	case frameRow:
		return "row value"
	}
	return "frame"
}

type frame struct {
	kind      frameKind
	remaining int
}

// StreamCursor decodes a relation from a byte stream.
type StreamCursor struct {
	in     *bufio.Reader
	closer io.Closer

	state  columnState
	frames []frame

	// header of the column under the cursor, valid in stateReady
	header byte
	entry  EntryType

	err error

	onEnd func() error
}

// Option configures a StreamCursor.
type Option func(*StreamCursor)

// WithEndHook registers a function called once when the relation is exhausted.
// Its error is returned from the NextRow call that observed the end.
func WithEndHook(fn func() error) Option {
	return func(c *StreamCursor) { c.onEnd = fn }
}

// NewStreamCursor returns a cursor over r. If r is an io.Closer it is closed by
// Close.
func NewStreamCursor(r io.Reader, opts ...Option) *StreamCursor {
	c := &StreamCursor{in: bufio.NewReader(r)}
	if cl, ok := r.(io.Closer); ok {
		c.closer = cl
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NextRow advances to the next row, discarding whatever remains of the current
// one. It returns false at the end of the relation.
func (c *StreamCursor) NextRow() (bool, error) {
	if err := c.usable(); err != nil {
		return false, err
	}
	switch c.state {
	case stateEnd:
		return false, nil
	case stateBeforeRow:
	default:
		if err := c.discardFrames(0); err != nil {
			return false, c.fail(err)
		}
	}
	h, err := c.in.ReadByte()
	if stderrors.Is(err, io.EOF) {
		return false, c.finish()
	}
	if err != nil {
		return false, c.fail(readError(err))
	}
	switch h {
	case headerEndOfContents:
		return false, c.finish()
	case headerRow:
		n, err := c.readCount()
		if err != nil {
			return false, c.fail(err)
		}
		c.frames = append(c.frames[:0], frame{kind: frameTopRow, remaining: n})
		c.state = stateBeforeColumn
		return true, nil
	}
	return false, c.fail(errors.Newf(errors.BrokenResponse, "expected row header, got 0x%02x", h))
}

// NextColumn advances to the next column of the innermost open row or nested
// value, skipping the current column if it has not been read. It returns false
// when there are no more columns.
func (c *StreamCursor) NextColumn() (bool, error) {
	if err := c.usable(); err != nil {
		return false, err
	}
	switch c.state {
	case stateBeforeRow, stateEnd:
		return false, errors.New(errors.NotReady, "cursor is not positioned on a row")
	case stateFrameEnd:
		return false, nil
	case stateReady:
		if err := c.skipCurrent(); err != nil {
			return false, c.fail(err)
		}
	}
	top := &c.frames[len(c.frames)-1]
	if top.remaining == 0 {
		c.state = stateFrameEnd
		return false, nil
	}
	top.remaining--
	h, err := c.in.ReadByte()
	if err != nil {
		return false, c.fail(readError(unexpected(err)))
	}
	entry, ok := entryOf(h)
	if !ok || entry == EntryEndOfContents {
		return false, c.fail(errors.Newf(errors.BrokenResponse, "unexpected column header 0x%02x", h))
	}
	c.header, c.entry = h, entry
	c.state = stateReady
	return true, nil
}

// Type returns the declared type of the column under the cursor.
func (c *StreamCursor) Type() (EntryType, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	return c.entry, nil
}

// IsNull reports whether the column under the cursor is null. It does not
// consume the column.
func (c *StreamCursor) IsNull() (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.entry == EntryNull, nil
}

func (c *StreamCursor) FetchBooleanValue() (bool, error) {
	if err := c.expect(EntryBoolean); err != nil {
		return false, err
	}
	b, err := c.in.ReadByte()
	if err != nil {
		return false, c.fail(readError(unexpected(err)))
	}
	return b != 0, c.consumed()
}

func (c *StreamCursor) FetchInt4Value() (int32, error) {
	if err := c.expect(EntryInt); err != nil {
		return 0, err
	}
	v, err := c.readSint()
	if err != nil {
		return 0, c.fail(err)
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		// the value is read; the column is spent either way
		c.state = stateConsumed
		return 0, errors.Newf(errors.TypeMismatch, "value %d does not fit in INT4", v)
	}
	return int32(v), c.consumed()
}

func (c *StreamCursor) FetchInt8Value() (int64, error) {
	if err := c.expect(EntryInt); err != nil {
		return 0, err
	}
	v, err := c.readSint()
	if err != nil {
		return 0, c.fail(err)
	}
	return v, c.consumed()
}

func (c *StreamCursor) FetchFloat4Value() (float32, error) {
	if err := c.expect(EntryFloat4); err != nil {
		return 0, err
	}
	b, err := c.readN(4)
	if err != nil {
		return 0, c.fail(err)
	}
	v, _ := protowire.ConsumeFixed32(b)
	return math.Float32frombits(v), c.consumed()
}

func (c *StreamCursor) FetchFloat8Value() (float64, error) {
	if err := c.expect(EntryFloat8); err != nil {
		return 0, err
	}
	b, err := c.readN(8)
	if err != nil {
		return 0, c.fail(err)
	}
	v, _ := protowire.ConsumeFixed64(b)
	return math.Float64frombits(v), c.consumed()
}

// FetchDecimalValue returns the decimal as unscaled value and exponent.
func (c *StreamCursor) FetchDecimalValue() (pgtype.Numeric, error) {
	if err := c.expect(EntryDecimal); err != nil {
		return pgtype.Numeric{}, err
	}
	var unscaled *big.Int
	if c.header == headerDecimalInt64 {
		v, err := c.readSint()
		if err != nil {
			return pgtype.Numeric{}, c.fail(err)
		}
		unscaled = big.NewInt(v)
	} else {
		b, err := c.readBytes()
		if err != nil {
			return pgtype.Numeric{}, c.fail(err)
		}
		unscaled = fromTwosComplement(b)
	}
	exp, err := c.readSint()
	if err != nil {
		return pgtype.Numeric{}, c.fail(err)
	}
	if exp < math.MinInt32 || exp > math.MaxInt32 {
		return pgtype.Numeric{}, c.fail(errors.Newf(errors.BrokenResponse, "decimal exponent %d out of range", exp))
	}
	return pgtype.Numeric{Int: unscaled, Exp: int32(exp), Valid: true}, c.consumed()
}

func (c *StreamCursor) FetchCharacterValue() (string, error) {
	if err := c.expect(EntryCharacter); err != nil {
		return "", err
	}
	b, err := c.readBytes()
	if err != nil {
		return "", c.fail(err)
	}
	return string(b), c.consumed()
}

func (c *StreamCursor) FetchOctetValue() ([]byte, error) {
	if err := c.expect(EntryOctet); err != nil {
		return nil, err
	}
	b, err := c.readBytes()
	if err != nil {
		return nil, c.fail(err)
	}
	return b, c.consumed()
}

func (c *StreamCursor) FetchBitValue() (BitArray, error) {
	if err := c.expect(EntryBit); err != nil {
		return BitArray{}, err
	}
	size, err := c.readCount()
	if err != nil {
		return BitArray{}, c.fail(err)
	}
	data, err := c.readN((size + 7) / 8)
	if err != nil {
		return BitArray{}, c.fail(err)
	}
	return BitArray{data: data, size: size}, c.consumed()
}

// FetchDateValue returns the date as midnight UTC.
func (c *StreamCursor) FetchDateValue() (time.Time, error) {
	if err := c.expect(EntryDate); err != nil {
		return time.Time{}, err
	}
	days, err := c.readSint()
	if err != nil {
		return time.Time{}, c.fail(err)
	}
	return dateOf(days), c.consumed()
}

func (c *StreamCursor) FetchTimeOfDayValue() (time.Duration, error) {
	if err := c.expect(EntryTimeOfDay); err != nil {
		return 0, err
	}
	nanos, err := c.readUint()
	if err != nil {
		return 0, c.fail(err)
	}
	return time.Duration(nanos), c.consumed()
}

// FetchTimePointValue returns the time point in UTC.
func (c *StreamCursor) FetchTimePointValue() (time.Time, error) {
	if err := c.expect(EntryTimePoint); err != nil {
		return time.Time{}, err
	}
	sec, nanos, err := c.readSecondsNanos()
	if err != nil {
		return time.Time{}, c.fail(err)
	}
	return time.Unix(sec, nanos).UTC(), c.consumed()
}

func (c *StreamCursor) FetchTimeOfDayWithTimeZoneValue() (OffsetTime, error) {
	if err := c.expect(EntryTimeOfDayWithTimeZone); err != nil {
		return OffsetTime{}, err
	}
	nanos, err := c.readUint()
	if err != nil {
		return OffsetTime{}, c.fail(err)
	}
	offset, err := c.readInt32("zone offset")
	if err != nil {
		return OffsetTime{}, c.fail(err)
	}
	return OffsetTime{TimeOfDay: time.Duration(nanos), OffsetMinutes: offset}, c.consumed()
}

// FetchTimePointWithTimeZoneValue returns the time point in a fixed zone with
// the transmitted offset.
func (c *StreamCursor) FetchTimePointWithTimeZoneValue() (time.Time, error) {
	if err := c.expect(EntryTimePointWithTimeZone); err != nil {
		return time.Time{}, err
	}
	sec, nanos, err := c.readSecondsNanos()
	if err != nil {
		return time.Time{}, c.fail(err)
	}
	offset, err := c.readInt32("zone offset")
	if err != nil {
		return time.Time{}, c.fail(err)
	}
	zone := time.FixedZone("", int(offset)*60)
	return time.Unix(sec, nanos).In(zone), c.consumed()
}

func (c *StreamCursor) FetchDateTimeIntervalValue() (DateTimeInterval, error) {
	if err := c.expect(EntryDateTimeInterval); err != nil {
		return DateTimeInterval{}, err
	}
	months, err := c.readInt32("interval months")
	if err != nil {
		return DateTimeInterval{}, c.fail(err)
	}
	days, err := c.readInt32("interval days")
	if err != nil {
		return DateTimeInterval{}, c.fail(err)
	}
	nanos, err := c.readSint()
	if err != nil {
		return DateTimeInterval{}, c.fail(err)
	}
	return DateTimeInterval{Months: months, Days: days, Nanoseconds: nanos}, c.consumed()
}

func (c *StreamCursor) FetchBlob() (BlobReference, error) {
	if err := c.expect(EntryBlob); err != nil {
		return BlobReference{}, err
	}
	p, id, err := c.readReference()
	if err != nil {
		return BlobReference{}, c.fail(err)
	}
	return BlobReference{Provider: p, ObjectID: id}, c.consumed()
}

func (c *StreamCursor) FetchClob() (ClobReference, error) {
	if err := c.expect(EntryClob); err != nil {
		return ClobReference{}, err
	}
	p, id, err := c.readReference()
	if err != nil {
		return ClobReference{}, c.fail(err)
	}
	return ClobReference{Provider: p, ObjectID: id}, c.consumed()
}

// BeginArrayValue enters the array under the cursor and returns its length.
func (c *StreamCursor) BeginArrayValue() (int, error) {
	return c.begin(EntryArray, frameArray)
}

// EndArrayValue leaves the innermost array, discarding unread elements.
func (c *StreamCursor) EndArrayValue() error {
	return c.end(frameArray)
}

// BeginRowValue enters the row value under the cursor and returns its width.
func (c *StreamCursor) BeginRowValue() (int, error) {
	return c.begin(EntryRow, frameRow)
}

// EndRowValue leaves the innermost row value, discarding unread columns.
func (c *StreamCursor) EndRowValue() error {
	return c.end(frameRow)
}

// Close releases the underlying stream. It is safe to call more than once.
func (c *StreamCursor) Close() error {
	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed
	c.frames = nil
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

func (c *StreamCursor) begin(entry EntryType, kind frameKind) (int, error) {
	if err := c.expect(entry); err != nil {
		return 0, err
	}
	n, err := c.readCount()
	if err != nil {
		return 0, c.fail(err)
	}
	c.frames = append(c.frames, frame{kind: kind, remaining: n})
	c.state = stateBeforeColumn
	return n, nil
}

func (c *StreamCursor) end(kind frameKind) error {
	if err := c.usable(); err != nil {
		return err
	}
	if len(c.frames) < 2 {
		return errors.Newf(errors.Structure, "end of %s without a matching begin", kind)
	}
	if top := c.frames[len(c.frames)-1]; top.kind != kind {
		return errors.Newf(errors.Structure, "end of %s inside %s", kind, top.kind)
	}
	if err := c.discardFrames(len(c.frames) - 1); err != nil {
		return c.fail(err)
	}
	// the composite column of the parent frame is now spent
	c.state = stateConsumed
	return nil
}

// discardFrames skips the rest of every frame above depth keep, innermost
// first, and pops them.
func (c *StreamCursor) discardFrames(keep int) error {
	if c.state == stateReady {
		if err := c.skipCurrent(); err != nil {
			return err
		}
	}
	for len(c.frames) > keep {
		top := c.frames[len(c.frames)-1]
		for ; top.remaining > 0; top.remaining-- {
			if err := c.skipValue(); err != nil {
				return err
			}
		}
		c.frames = c.frames[:len(c.frames)-1]
	}
	if keep == 0 {
		c.state = stateBeforeRow
	}
	return nil
}

func (c *StreamCursor) skipCurrent() error {
	c.state = stateConsumed
	return c.skipPayload(c.header)
}

func (c *StreamCursor) skipValue() error {
	h, err := c.in.ReadByte()
	if err != nil {
		return readError(unexpected(err))
	}
	return c.skipPayload(h)
}

// skipPayload discards the body of a value whose header has been read. Bodies
// have variable width, so skipping decodes them by type.
func (c *StreamCursor) skipPayload(h byte) error {
	switch h {
	case headerNull:
		return nil
	case headerBoolean:
		_, err := c.readN(1)
		return err
	case headerInt, headerDate, headerTimeOfDay:
		_, err := c.readUint()
		return err
	case headerFloat4:
		_, err := c.readN(4)
		return err
	case headerFloat8:
		_, err := c.readN(8)
		return err
	case headerDecimal:
		if _, err := c.readBytes(); err != nil {
			return err
		}
		_, err := c.readUint()
		return err
	case headerDecimalInt64, headerTimePoint, headerTimeOfDayTZ, headerBlob, headerClob:
		return c.skipVarints(2)
	case headerTimePointTZ, headerInterval:
		return c.skipVarints(3)
	case headerCharacter, headerOctet:
		_, err := c.readBytes()
		return err
	case headerBit:
		size, err := c.readCount()
		if err != nil {
			return err
		}
		_, err = c.readN((size + 7) / 8)
		return err
	case headerArray, headerRow:
		n, err := c.readCount()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := c.skipValue(); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.Newf(errors.BrokenResponse, "unexpected value header 0x%02x", h)
}

func (c *StreamCursor) skipVarints(n int) error {
	for i := 0; i < n; i++ {
		if _, err := c.readUint(); err != nil {
			return err
		}
	}
	return nil
}

func (c *StreamCursor) usable() error {
	if c.state == stateClosed {
		return errors.New(errors.AlreadyClosed, "cursor is closed")
	}
	return c.err
}

func (c *StreamCursor) ready() error {
	if err := c.usable(); err != nil {
		return err
	}
	switch c.state {
	case stateReady:
		return nil
	case stateConsumed:
		return errors.New(errors.NotReady, "column value has already been read")
	}
	return errors.New(errors.NotReady, "cursor is not positioned on a column")
}

func (c *StreamCursor) expect(entry EntryType) error {
	if err := c.ready(); err != nil {
		return err
	}
	switch c.entry {
	case entry:
		return nil
	case EntryNull:
		return errors.Newf(errors.NullValue, "column is null, %s requested", entry)
	}
	return errors.Newf(errors.TypeMismatch, "column is %s, %s requested", c.entry, entry)
}

func (c *StreamCursor) consumed() error {
	c.state = stateConsumed
	return nil
}

func (c *StreamCursor) finish() error {
	c.state = stateEnd
	c.frames = c.frames[:0]
	if c.onEnd != nil {
		fn := c.onEnd
		c.onEnd = nil
		if err := fn(); err != nil {
			c.err = err
			return err
		}
	}
	return nil
}

// fail records err as sticky. Later calls return it.
func (c *StreamCursor) fail(err error) error {
	if c.err == nil {
		c.err = err
	}
	return err
}

func (c *StreamCursor) readUint() (uint64, error) {
	v, err := binary.ReadUvarint(c.in)
	if err != nil {
		return 0, readError(unexpected(err))
	}
	return v, nil
}

func (c *StreamCursor) readSint() (int64, error) {
	v, err := c.readUint()
	if err != nil {
		return 0, err
	}
	return protowire.DecodeZigZag(v), nil
}

// readInt32 reads a signed varint that must fit in 32 bits.
func (c *StreamCursor) readInt32(what string) (int32, error) {
	v, err := c.readSint()
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, errors.Newf(errors.BrokenResponse, "%s %d out of range", what, v)
	}
	return int32(v), nil
}

func (c *StreamCursor) readCount() (int, error) {
	v, err := c.readUint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 {
		return 0, errors.Newf(errors.BrokenResponse, "count %d out of range", v)
	}
	return int(v), nil
}

// readChunk bounds the buffer readN reserves before any data arrived.
const readChunk = 64 << 10

// readN reads exactly n bytes. The buffer grows with the data actually read,
// so a corrupt length cannot force a large allocation.
func (c *StreamCursor) readN(n int) ([]byte, error) {
	if n <= readChunk {
		b := make([]byte, n)
		if _, err := io.ReadFull(c.in, b); err != nil {
			return nil, readError(unexpected(err))
		}
		return b, nil
	}
	var buf bytes.Buffer
	buf.Grow(readChunk)
	if _, err := io.CopyN(&buf, c.in, int64(n)); err != nil {
		return nil, readError(unexpected(err))
	}
	return buf.Bytes(), nil
}

func (c *StreamCursor) readBytes() ([]byte, error) {
	n, err := c.readCount()
	if err != nil {
		return nil, err
	}
	return c.readN(n)
}

func (c *StreamCursor) readSecondsNanos() (int64, int64, error) {
	sec, err := c.readSint()
	if err != nil {
		return 0, 0, err
	}
	nanos, err := c.readUint()
	if err != nil {
		return 0, 0, err
	}
	if nanos >= uint64(time.Second) {
		return 0, 0, errors.Newf(errors.BrokenResponse, "nanosecond adjustment %d out of range", nanos)
	}
	return sec, int64(nanos), nil
}

func (c *StreamCursor) readReference() (uint64, uint64, error) {
	p, err := c.readUint()
	if err != nil {
		return 0, 0, err
	}
	id, err := c.readUint()
	if err != nil {
		return 0, 0, err
	}
	return p, id, nil
}

// unexpected turns EOF inside a value into io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func readError(err error) error {
	var e *errors.E
	if stderrors.As(err, &e) {
		return err
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrap(errors.BrokenResponse, "relation stream is truncated", err)
	}
	return errors.Wrap(errors.Transport, "reading relation stream", err)
}
