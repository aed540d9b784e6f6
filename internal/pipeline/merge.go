// Package pipeline implements the rescue-and-merge engine and the sync
// runner that drives fetch -> reconcile/normalize -> rescue -> merge ->
// replace.
package pipeline

import (
	"appsync/internal/airtable"
	"appsync/internal/normalize"
	"appsync/internal/schema"
)

// Row is one application in canonical column space. Columns preserves the
// encounter order of the record's fields; Values holds normalized scalars.
type Row struct {
	Columns []string
	Values  map[string]any
}

// Get returns the value for a canonical column, nil when absent.
func (r Row) Get(column string) any { return r.Values[column] }

// Set assigns a column, appending to the order if it is new.
func (r *Row) Set(column string, v any) {
	if _, ok := r.Values[column]; !ok {
		r.Columns = append(r.Columns, column)
	}
	r.Values[column] = v
}

// BuildRows reconciles and normalizes fetched records into canonical rows.
//
// Duplicate canonical columns within a record (two source labels reconciling
// to the same name) are folded keeping the first non-null value in
// source-field-encounter order. Later non-null values for an already-set
// column are dropped; that is the documented deterministic behavior, not a
// tie-break heuristic.
func BuildRows(fetched []airtable.Record) []Row {
	rows := make([]Row, 0, len(fetched))
	for _, rec := range fetched {
		row := Row{Values: make(map[string]any, len(rec.Labels))}

		for _, label := range rec.Labels {
			canonical := schema.Reconcile(label)
			val := normalize.Value(rec.Fields[label], schema.TypeOf(canonical))

			prev, seen := row.Values[canonical]
			if !seen {
				row.Set(canonical, val)
				continue
			}
			if prev == nil && val != nil {
				row.Values[canonical] = val
			}
		}

		// Derived column the dashboard groups by.
		if cohort, ok := row.Get(schema.ColCohort).(string); ok {
			if year, known := schema.CohortYear(cohort); known {
				row.Set(schema.ColYear, float64(year))
			}
		}

		rows = append(rows, row)
	}
	return rows
}

// RowsFromStored wraps repository result maps as Rows, preserving the
// table's column order.
func RowsFromStored(columns []string, records []map[string]any) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		row := Row{Values: make(map[string]any, len(rec))}
		for _, c := range columns {
			row.Set(c, rec[c])
		}
		rows = append(rows, row)
	}
	return rows
}

// Merge concatenates freshly built rows with rescued rows into one
// consistent set. The two sets are disjoint by construction of the
// identifier scheme (manual prefix vs Airtable ids), so no cross-set
// deduplication happens here.
//
// Invariant: Merge(rescued, nil) reproduces the rescued set unchanged. That
// is what prevents a remote-source outage from deleting manually entered
// data on the next scheduled sync.
func Merge(rescued, built []Row) []Row {
	out := make([]Row, 0, len(built)+len(rescued))
	out = append(out, built...)
	out = append(out, rescued...)
	return out
}

// UnionColumns returns every column observed across rows, in first-seen
// order. The identifier column is always present and always first.
func UnionColumns(rows []Row) []string {
	cols := []string{schema.ColID}
	seen := map[string]bool{schema.ColID: true}
	for _, row := range rows {
		for _, c := range row.Columns {
			if seen[c] {
				continue
			}
			seen[c] = true
			cols = append(cols, c)
		}
	}
	return cols
}

// Materialize aligns rows to a column list for the persistence sink.
// Columns missing on a row fill as nil.
func Materialize(columns []string, rows []Row) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		vals := make([]any, len(columns))
		for j, c := range columns {
			vals[j] = row.Get(c)
		}
		out[i] = vals
	}
	return out
}
