// Package normalize converts raw Airtable field values into storage-ready
// scalars. The contract the persistence sink and the stats layer rely on:
// numeric columns at rest are never raw free text; they are nil or a valid
// decimal. Coercion never fails a sync; unusable input degrades to nil.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"appsync/internal/schema"
)

// Value coerces a raw field value for storage, guided by the target field's
// semantic type.
//
// Precedence (first rule that applies wins):
//  1. nil or empty string -> nil
//  2. list / nested object -> canonical JSON text, never a structured value
//  3. numeric target -> Number
//  4. date target -> Date
//  5. anything else -> string coercion
func Value(v any, t schema.FieldType) any {
	switch raw := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(raw) == "" {
			return nil
		}
	case []any, map[string]any, []string:
		// Structured values are serialized even for numeric/date targets:
		// a list is not a number, and JSON text keeps the content queryable.
		enc, err := json.Marshal(raw)
		if err != nil {
			return fmt.Sprint(raw)
		}
		return string(enc)
	}

	switch t {
	case schema.TypeNumeric:
		return Number(v)
	case schema.TypeDate:
		return Date(v)
	default:
		return asString(v)
	}
}

// Number extracts a decimal from currency-like free text.
//
// Every character that is not a digit or a decimal point is stripped before
// parsing, so "$1,200.50 USD" yields 1200.50. If nothing parseable remains
// ("N/A", "none yet"), the result is nil, not an error; aggregates treat nil
// as contributing zero.
func Number(v any) any {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return nil
	}

	s := fmt.Sprint(v)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	stripped := b.String()
	if stripped == "" {
		return nil
	}
	f, err := strconv.ParseFloat(stripped, 64)
	if err != nil {
		// e.g. "1.2.3" after stripping; unparseable content is worth nil,
		// never an error.
		return nil
	}
	return f
}

// dateLayouts are tried in order. RFC3339 first because that is what
// Airtable's createdTime uses.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"2/1/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006/01/02",
	"2006-01",
	"2006",
}

// Date parses date-like text permissively. Unparseable input yields nil.
// Successful parses are stored as UTC time.Time values so every backend can
// bind them natively.
func Date(v any) any {
	switch d := v.(type) {
	case nil:
		return nil
	case time.Time:
		return d.UTC()
	}

	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return nil
}

// asString coerces remaining scalar types to their string form.
func asString(v any) any {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		if s {
			return "true"
		}
		return "false"
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}
