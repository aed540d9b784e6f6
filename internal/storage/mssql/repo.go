package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"appsync/internal/schema"
	"appsync/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Dialect notes vs Postgres:
//   - Identifiers are bracket-quoted.
//   - The identifier column is NVARCHAR(450) so it can carry a UNIQUE
//     constraint (NVARCHAR(MAX) cannot).
//   - TOP replaces LIMIT; TRY_CAST replaces CAST for drift-tolerant sums
//     (bad text becomes NULL, which aggregates as zero, not as a fault).
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
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

func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func columnType(field string) string {
	if field == schema.ColID {
		return "NVARCHAR(450)"
	}
	switch schema.TypeOf(field) {
	case schema.TypeNumeric:
		return "FLOAT"
	case schema.TypeDate:
		return "DATETIME2"
	default:
		return "NVARCHAR(MAX)"
	}
}

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

	// SQL Server caps a statement at 2100 parameters.
	chunk := 2000 / len(columns)
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

// buildCreateSQL renders the applications DDL for a column set. Pure, so
// typing and quoting are unit-testable without a server.
func buildCreateSQL(columns []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(schema.TableApplications)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
		b.WriteString(" ")
		b.WriteString(columnType(c))
		if c == schema.ColID {
			b.WriteString(" UNIQUE")
		}
	}
	b.WriteString(")")
	return b.String()
}

func buildInsertSQL(columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(schema.TableApplications)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("@p%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

func (r *Repo) tableColumns(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_NAME = @p1 ORDER BY ORDINAL_POSITION`,
		schema.TableApplications)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (r *Repo) ensureColumns(ctx context.Context, fields map[string]any) error {
	existing, err := r.tableColumns(ctx)
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		base := []string{schema.ColID, schema.ColCreated, schema.ColCohort, "application_status"}
		if _, err := r.db.ExecContext(ctx, buildCreateSQL(base)); err != nil {
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
		stmt := fmt.Sprintf("ALTER TABLE %s ADD %s %s", schema.TableApplications, msIdent(c), columnType(c))
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
		return nil, nil, nil
	}

	q := fmt.Sprintf("SELECT * FROM %s WHERE %s LIKE @p1", schema.TableApplications, msIdent(schema.ColID))
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

	q := fmt.Sprintf("SELECT TOP (@p1) * FROM %s", schema.TableApplications)
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	_, out, err := scanRows(rows)
	return out, err
}

func (r *Repo) GetApplication(ctx context.Context, id string) (map[string]any, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = @p1", schema.TableApplications, msIdent(schema.ColID))
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
		b.WriteString(msIdent(c))
		args = append(args, fields[c])
	}
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("@p%d", i+1))
	}
	b.WriteString(")")

	_, err := r.db.ExecContext(ctx, b.String(), args...)
	return err
}

func (r *Repo) UpdateApplication(ctx context.Context, id string, fields map[string]any) error {
	delete(fields, schema.ColID)
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
	p := 1
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
		b.WriteString(fmt.Sprintf(" = @p%d", p))
		args = append(args, fields[c])
		p++
	}
	b.WriteString(" WHERE ")
	b.WriteString(msIdent(schema.ColID))
	b.WriteString(fmt.Sprintf(" = @p%d", p))
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
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = @p1", schema.TableApplications, msIdent(schema.ColID))
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
	q := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", msIdent(column), schema.TableApplications)
	var n int64
	err := r.db.QueryRowContext(ctx, q).Scan(&n)
	return n, err
}

func (r *Repo) SumNumeric(ctx context.Context, column string) (float64, error) {
	q := fmt.Sprintf("SELECT COALESCE(SUM(TRY_CAST(%s AS FLOAT)), 0) FROM %s", msIdent(column), schema.TableApplications)
	var sum float64
	err := r.db.QueryRowContext(ctx, q).Scan(&sum)
	return sum, err
}

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
