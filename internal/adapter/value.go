// Package adapter provides the canonical row model and per-source adapters
// that turn declarative ingestion configs into fetch plans and parsed rows.
package adapter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type (
	// Kind identifies the dynamic type carried by a Value.
	Kind int

	// Value is the tagged union cell type every adapter normalizes payloads into.
	// Exactly one of the payload fields is meaningful, selected by Kind.
	Value struct {
		Kind     Kind
		IntVal   int64
		FloatVal float64
		TextVal  string
		BoolVal  bool
		TimeVal  time.Time
	}

	// Row is a parsed record keyed by normalized column name.
	Row map[string]Value
)

// Value kinds.
const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindText
	KindBool
	KindTime
)

// Null returns the null Value.
func Null() Value { return Value{Kind: KindNull} }

// Int returns an integer Value.
func Int(v int64) Value { return Value{Kind: KindInt, IntVal: v} }

// Float returns a floating-point Value.
func Float(v float64) Value { return Value{Kind: KindFloat, FloatVal: v} }

// Text returns a text Value.
func Text(v string) Value { return Value{Kind: KindText, TextVal: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, BoolVal: v} }

// Time returns a timestamp Value.
func Time(v time.Time) Value { return Value{Kind: KindTime, TimeVal: v} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Arg converts the value into a driver-compatible argument for parameterized SQL.
func (v Value) Arg() any {
	switch v.Kind {
	case KindInt:
		return v.IntVal
	case KindFloat:
		return v.FloatVal
	case KindText:
		return v.TextVal
	case KindBool:
		return v.BoolVal
	case KindTime:
		return v.TimeVal
	default:
		return nil
	}
}

// String renders the value for logging and dedup keys.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.IntVal, 10)
	case KindFloat:
		return strconv.FormatFloat(v.FloatVal, 'g', -1, 64)
	case KindText:
		return v.TextVal
	case KindBool:
		return strconv.FormatBool(v.BoolVal)
	case KindTime:
		return v.TimeVal.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

// CoerceValue converts an arbitrary decoded JSON value into a typed Value.
// Type coercion is the adapter's responsibility: upstream APIs return numbers
// as strings, booleans as "Y"/"N", and nulls in several shapes.
func CoerceValue(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		// encoding/json decodes all numbers as float64; keep integral values integral.
		if t == float64(int64(t)) {
			return Int(int64(t))
		}

		return Float(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case string:
		return CoerceText(t)
	case time.Time:
		return Time(t)
	default:
		return Text(fmt.Sprintf("%v", t))
	}
}

// CoerceText converts a string cell into the narrowest Value that round-trips.
// Empty strings and common null markers map to Null.
func CoerceText(s string) Value {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Null()
	}

	switch strings.ToLower(trimmed) {
	case "null", "na", "n/a", ".", "--":
		return Null()
	}

	return Text(trimmed)
}

// CoerceNumeric parses a string cell as a number, tolerating thousands
// separators. Returns Null for empty or non-numeric input.
func CoerceNumeric(s string) Value {
	trimmed := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if trimmed == "" {
		return Null()
	}

	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return Int(i)
	}

	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Float(f)
	}

	return Null()
}

// CoerceDate parses a string cell using the provided layouts in order.
// Returns Null when no layout matches.
func CoerceDate(s string, layouts ...string) Value {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Null()
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return Time(t)
		}
	}

	return Null()
}
