// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlclient

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/relation"
)

// Placeholder declares a named parameter of a prepared statement.
type Placeholder = model.Placeholder

// Parameter is a named value bound to a placeholder.
type Parameter struct {
	Name  string
	write func(*relation.Encoder)
}

func param(name string, write func(*relation.Encoder)) Parameter {
	return Parameter{Name: name, write: write}
}

func Null(name string) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteNull() })
}

func Bool(name string, v bool) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteBoolean(v) })
}

func Int4(name string, v int32) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteInt(int64(v)) })
}

func Int8(name string, v int64) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteInt(v) })
}

func Float4(name string, v float32) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteFloat4(v) })
}

func Float8(name string, v float64) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteFloat8(v) })
}

func Decimal(name string, v pgtype.Numeric) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteDecimal(v) })
}

func Character(name, v string) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteCharacter(v) })
}

func Octet(name string, v []byte) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteOctet(v) })
}

func Bit(name string, v relation.BitArray) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteBit(v) })
}

func Date(name string, v time.Time) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteDate(v) })
}

func TimeOfDay(name string, v time.Duration) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteTimeOfDay(v) })
}

func TimePoint(name string, v time.Time) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteTimePoint(v) })
}

func TimeOfDayWithTimeZone(name string, v relation.OffsetTime) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteTimeOfDayWithTimeZone(v) })
}

func TimePointWithTimeZone(name string, v time.Time) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteTimePointWithTimeZone(v) })
}

func Interval(name string, v relation.DateTimeInterval) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteDateTimeInterval(v) })
}

func Blob(name string, v relation.BlobReference) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteBlob(v) })
}

func Clob(name string, v relation.ClobReference) Parameter {
	return param(name, func(e *relation.Encoder) { e.WriteClob(v) })
}

// encodeParameters writes one row whose columns are (name, value) row values.
func encodeParameters(params []Parameter) []byte {
	if len(params) == 0 {
		return nil
	}
	e := relation.NewEncoder().WriteRowBegin(len(params))
	for _, p := range params {
		e.WriteRowBegin(2).WriteCharacter(p.Name)
		p.write(e)
	}
	return e.Bytes()
}
