// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dbwire/cli/internal/bridge/model"
	"dbwire/cli/internal/sqlclient"
)

// parseParam parses a --param flag of the form name[:type]=value. The type
// defaults to character.
func parseParam(s string) (sqlclient.Placeholder, sqlclient.Parameter, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return sqlclient.Placeholder{}, sqlclient.Parameter{}, fmt.Errorf("invalid parameter %q: expected name[:type]=value", s)
	}
	name, typ, _ := strings.Cut(key, ":")
	if typ == "" {
		typ = "character"
	}
	fail := func(err error) (sqlclient.Placeholder, sqlclient.Parameter, error) {
		return sqlclient.Placeholder{}, sqlclient.Parameter{}, fmt.Errorf("parameter %s: %w", name, err)
	}

	switch strings.ToLower(typ) {
	case "character", "text", "varchar":
		return sqlclient.Placeholder{Name: name, Type: model.AtomCharacter}, sqlclient.Character(name, value), nil
	case "int4", "int":
		v, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fail(err)
		}
		return sqlclient.Placeholder{Name: name, Type: model.AtomInt4}, sqlclient.Int4(name, int32(v)), nil
	case "int8", "bigint":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fail(err)
		}
		return sqlclient.Placeholder{Name: name, Type: model.AtomInt8}, sqlclient.Int8(name, v), nil
	case "float8", "double":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fail(err)
		}
		return sqlclient.Placeholder{Name: name, Type: model.AtomFloat8}, sqlclient.Float8(name, v), nil
	case "bool", "boolean":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fail(err)
		}
		return sqlclient.Placeholder{Name: name, Type: model.AtomBoolean}, sqlclient.Bool(name, v), nil
	case "date":
		v, err := time.Parse(time.DateOnly, value)
		if err != nil {
			return fail(err)
		}
		return sqlclient.Placeholder{Name: name, Type: model.AtomDate}, sqlclient.Date(name, v), nil
	case "null":
		return sqlclient.Placeholder{Name: name, Type: model.AtomCharacter}, sqlclient.Null(name), nil
	}
	return fail(fmt.Errorf("unsupported type %q", typ))
}

// parseParams parses every --param flag.
func parseParams(flags []string) ([]sqlclient.Placeholder, []sqlclient.Parameter, error) {
	placeholders := make([]sqlclient.Placeholder, 0, len(flags))
	params := make([]sqlclient.Parameter, 0, len(flags))
	for _, f := range flags {
		ph, p, err := parseParam(f)
		if err != nil {
			return nil, nil, err
		}
		placeholders = append(placeholders, ph)
		params = append(params, p)
	}
	return placeholders, params, nil
}
