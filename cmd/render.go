// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dbwire/cli/internal/relation"
)

// typedCursor is a relation cursor that reports column types.
type typedCursor interface {
	relation.Cursor
	Type() (relation.EntryType, error)
}

// readRow formats every column of the current row.
func readRow(c typedCursor) ([]string, error) {
	var cells []string
	for {
		ok, err := c.NextColumn()
		if err != nil {
			return nil, err
		}
		if !ok {
			return cells, nil
		}
		s, err := formatValue(c)
		if err != nil {
			return nil, err
		}
		cells = append(cells, s)
	}
}

// formatValue renders the value under the cursor, descending into arrays and
// row values.
func formatValue(c typedCursor) (string, error) {
	t, err := c.Type()
	if err != nil {
		return "", err
	}
	switch t {
	case relation.EntryNull:
		return "NULL", nil
	case relation.EntryBoolean:
		v, err := c.FetchBooleanValue()
		return strconv.FormatBool(v), err
	case relation.EntryInt:
		v, err := c.FetchInt8Value()
		return strconv.FormatInt(v, 10), err
	case relation.EntryFloat4:
		v, err := c.FetchFloat4Value()
		return strconv.FormatFloat(float64(v), 'g', -1, 32), err
	case relation.EntryFloat8:
		v, err := c.FetchFloat8Value()
		return strconv.FormatFloat(v, 'g', -1, 64), err
	case relation.EntryDecimal:
		v, err := c.FetchDecimalValue()
		if err != nil {
			return "", err
		}
		b, err := v.MarshalJSON()
		return string(b), err
	case relation.EntryCharacter:
		return c.FetchCharacterValue()
	case relation.EntryOctet:
		v, err := c.FetchOctetValue()
		return `\x` + hex.EncodeToString(v), err
	case relation.EntryBit:
		v, err := c.FetchBitValue()
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, bit := range v.Bools() {
			if bit {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
		return b.String(), nil
	case relation.EntryDate:
		v, err := c.FetchDateValue()
		return v.Format(time.DateOnly), err
	case relation.EntryTimeOfDay:
		v, err := c.FetchTimeOfDayValue()
		return formatTimeOfDay(v), err
	case relation.EntryTimePoint:
		v, err := c.FetchTimePointValue()
		return v.Format("2006-01-02 15:04:05.999999999"), err
	case relation.EntryTimeOfDayWithTimeZone:
		v, err := c.FetchTimeOfDayWithTimeZoneValue()
		return formatTimeOfDay(v.TimeOfDay) + formatOffset(v.OffsetMinutes), err
	case relation.EntryTimePointWithTimeZone:
		v, err := c.FetchTimePointWithTimeZoneValue()
		return v.Format("2006-01-02 15:04:05.999999999Z07:00"), err
	case relation.EntryDateTimeInterval:
		v, err := c.FetchDateTimeIntervalValue()
		return fmt.Sprintf("%d mons %d days %s", v.Months, v.Days, time.Duration(v.Nanoseconds)), err
	case relation.EntryBlob:
		v, err := c.FetchBlob()
		return fmt.Sprintf("<blob %d/%d>", v.Provider, v.ObjectID), err
	case relation.EntryClob:
		v, err := c.FetchClob()
		return fmt.Sprintf("<clob %d/%d>", v.Provider, v.ObjectID), err
	case relation.EntryArray:
		if _, err := c.BeginArrayValue(); err != nil {
			return "", err
		}
		elems, err := readRow(c)
		if err != nil {
			return "", err
		}
		return "[" + strings.Join(elems, ", ") + "]", c.EndArrayValue()
	case relation.EntryRow:
		if _, err := c.BeginRowValue(); err != nil {
			return "", err
		}
		fields, err := readRow(c)
		if err != nil {
			return "", err
		}
		return "(" + strings.Join(fields, ", ") + ")", c.EndRowValue()
	}
	return "", fmt.Errorf("unsupported column type %s", t)
}

func formatTimeOfDay(d time.Duration) string {
	return time.Time{}.Add(d).Format("15:04:05.999999999")
}

func formatOffset(minutes int32) string {
	sign := '+'
	if minutes < 0 {
		sign = '-'
		minutes = -minutes
	}
	return fmt.Sprintf("%c%02d:%02d", sign, minutes/60, minutes%60)
}
