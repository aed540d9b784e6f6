package storage

import (
	"sort"
	"time"
)

// ScanValue converts a value scanned from a backend to a canonical in-memory
// form ([]byte -> string, timestamps in UTC).
//
// Backends must not assume a particular scan type for text columns; pgx and
// database/sql drivers disagree on string vs []byte, and JSON encoding of a
// []byte would base64 it. This helper keeps row maps consistent across
// backends.
func ScanValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}

// SortedColumns returns the field names of a row map in deterministic order.
// Single-row writes build SQL from map input; iteration order must not leak
// into statement shape.
func SortedColumns(fields map[string]any) []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
