package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"appsync/internal/schema"
	"appsync/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native timestamp type; date values are stored as
//     RFC3339Nano strings for reliable round-trips and easy debugging.
//   - "INSERT OR ..." / PRAGMA introspection replace ON CONFLICT /
//     information_schema.
//
// SQLite is the local-development and test backend; the production sink is
// Postgres.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// sqlIdent quotes an identifier. SQLite supports "quoted identifiers".
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// columnType maps a canonical field to its SQLite column type.
func columnType(field string) string {
	switch schema.TypeOf(field) {
	case schema.TypeNumeric:
		return "REAL"
	default:
		// Dates ride as RFC3339 TEXT; see package note.
		return "TEXT"
	}
}

// bindValue converts storage values to driver-friendly types.
func bindValue(v any) any {
	if ts, ok := v.(time.Time); ok {
		return ts.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// ReplaceApplications drops and recreates the applications table inside one
// transaction, then inserts all rows in chunks.
func (r *Repo) ReplaceApplications(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		columns = []string{schema.ColID}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+schema.TableApplications); err != nil {
		return 0, fmt.Errorf("drop applications: %w", err)
	}
	if _, err := tx.ExecContext(ctx, buildCreateSQL(columns)); err != nil {
		return 0, fmt.Errorf("create applications: %w", err)
	}

	// Stay well below SQLITE_MAX_VARIABLE_NUMBER with wide rows.
	chunk := 500 / len(columns)
	if chunk < 1 {
		chunk = 1
	}

	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		part := rows[start:end]

		sqlText, args := buildInsertSQL(columns, part)
		res, err := tx.ExecContext(ctx, sqlText, args...)
		if err != nil {
			return total, fmt.Errorf("insert applications: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return total, err
	}
	return total, nil
}

// buildCreateSQL renders the applications DDL for a column set.
//
// Why this exists:
//   - It is pure and deterministic, so DDL shape (typing, identifier
//     uniqueness) is unit-testable without a database.
func buildCreateSQL(columns []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(schema.TableApplications)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
		b.WriteString(" ")
		b.WriteString(columnType(c))
		if c == schema.ColID {
			b.WriteString(" UNIQUE")
		}
	}
	b.WriteString(")")
	return b.String()
}

// buildInsertSQL renders a multi-row INSERT and its args.
func buildInsertSQL(columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(schema.TableApplications)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, bindValue(row[j]))
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// tableColumns returns the current applications columns, empty if the table
// does not exist yet.
func (r *Repo) tableColumns(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "PRAGMA table_info("+schema.TableApplications+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// ensureColumns creates the table if needed and adds any missing columns so
// CRUD writes can land between (or before) syncs.
func (r *Repo) ensureColumns(ctx context.Context, fields map[string]any) error {
	existing, err := r.tableColumns(ctx)
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		base := []string{schema.ColID, schema.ColCreated, schema.ColCohort, "application_status"}
		if _, err := r.db.ExecContext(ctx, strings.Replace(buildCreateSQL(base), "CREATE TABLE", "CREATE TABLE IF NOT EXISTS", 1)); err != nil {
			return fmt.Errorf("create applications: %w", err)
		}
		existing = base
	}

	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c] = true
	}
	for _, c := range storage.SortedColumns(fields) {
		if have[c] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", schema.TableApplications, sqlIdent(c), columnType(c))
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", c, err)
		}
	}
	return nil
}

func (r *Repo) SelectByIDPrefix(ctx context.Context, prefix string) ([]string, []map[string]any, error) {
	existing, err := r.tableColumns(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(existing) == 0 {
		// Nothing synced yet; nothing to rescue.
		return nil, nil, nil
	}

	q := fmt.Sprintf("SELECT * FROM %s WHERE %s LIKE ?", schema.TableApplications, sqlIdent(schema.ColID))
	rows, err := r.db.QueryContext(ctx, q, prefix+"%")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (r *Repo) ListApplications(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 1000
	}
	existing, err := r.tableColumns(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, nil
	}

	q := fmt.Sprintf("SELECT * FROM %s LIMIT ?", schema.TableApplications)
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	_, out, err := scanRows(rows)
	return out, err
}

func (r *Repo) GetApplication(ctx context.Context, id string) (map[string]any, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", schema.TableApplications, sqlIdent(schema.ColID))
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	_, out, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, storage.ErrNotFound
	}
	return out[0], nil
}

func (r *Repo) InsertApplication(ctx context.Context, fields map[string]any) error {
	if err := r.ensureColumns(ctx, fields); err != nil {
		return err
	}

	cols := storage.SortedColumns(fields)
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(schema.TableApplications)
	b.WriteString(" (")
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
		args = append(args, bindValue(fields[c]))
	}
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	b.WriteString(")")

	_, err := r.db.ExecContext(ctx, b.String(), args...)
	return err
}

func (r *Repo) UpdateApplication(ctx context.Context, id string, fields map[string]any) error {
	delete(fields, schema.ColID) // identifiers are never rewritten
	if len(fields) == 0 {
		return nil
	}
	if err := r.ensureColumns(ctx, fields); err != nil {
		return err
	}

	cols := storage.SortedColumns(fields)
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(schema.TableApplications)
	b.WriteString(" SET ")
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
		b.WriteString(" = ?")
		args = append(args, bindValue(fields[c]))
	}
	b.WriteString(" WHERE ")
	b.WriteString(sqlIdent(schema.ColID))
	b.WriteString(" = ?")
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repo) DeleteApplication(ctx context.Context, id string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", schema.TableApplications, sqlIdent(schema.ColID))
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repo) CountApplications(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+schema.TableApplications).Scan(&n)
	return n, err
}

func (r *Repo) CountDistinct(ctx context.Context, column string) (int64, error) {
	q := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", sqlIdent(column), schema.TableApplications)
	var n int64
	err := r.db.QueryRowContext(ctx, q).Scan(&n)
	return n, err
}

// SumNumeric aggregates a numeric column. CAST keeps the aggregate usable
// when schema drift left text in the column; SQLite casts non-numeric text
// to 0, which matches the "treat as zero, never fault" contract.
func (r *Repo) SumNumeric(ctx context.Context, column string) (float64, error) {
	q := fmt.Sprintf("SELECT COALESCE(SUM(CAST(%s AS REAL)), 0) FROM %s", sqlIdent(column), schema.TableApplications)
	var sum float64
	err := r.db.QueryRowContext(ctx, q).Scan(&sum)
	return sum, err
}

// scanRows materializes result rows as maps with canonical scan values.
func scanRows(rows *sql.Rows) ([]string, []map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		dests := make([]any, len(cols))
		for i := range values {
			dests[i] = &values[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, nil, err
		}

		m := make(map[string]any, len(cols))
		for i, c := range cols {
			m[c] = storage.ScanValue(values[i])
		}
		out = append(out, m)
	}
	return cols, out, rows.Err()
}

var _ storage.Repository = (*Repo)(nil)
