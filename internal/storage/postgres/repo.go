package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"appsync/internal/schema"
	"appsync/internal/storage"
)

/*
Repo implements storage.Repository for Postgres, the production sink.

It provides:
  - Transactional full-table replace for the sync pipeline
  - Single-row CRUD writes for the API
  - Aggregates for the stats layer

Identifier quoting matters here: provenance columns like "Cohort" and
"Country" are case-sensitive, exactly as the original table had them.
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a Postgres-backed Repo.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() { r.pool.Close() }

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// columnType maps a canonical field to its Postgres column type.
func columnType(field string) string {
	switch schema.TypeOf(field) {
	case schema.TypeNumeric:
		return "DOUBLE PRECISION"
	case schema.TypeDate:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// ReplaceApplications drops and recreates the applications table in one
// transaction. Readers never observe a half-replaced table; they see the old
// contents until commit.
func (r *Repo) ReplaceApplications(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		columns = []string{schema.ColID}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+schema.TableApplications); err != nil {
		return 0, fmt.Errorf("drop applications: %w", err)
	}
	if _, err := tx.Exec(ctx, buildCreateSQL(columns)); err != nil {
		return 0, fmt.Errorf("create applications: %w", err)
	}

	// Conservative chunking keeps parameter counts well below the wire limit
	// even for very wide rows.
	chunk := 5000 / len(columns)
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
		cmd, err := tx.Exec(ctx, sqlText, args...)
		if err != nil {
			return total, fmt.Errorf("insert applications: %w", err)
		}
		total += cmd.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return total, err
	}
	return total, nil
}

// buildCreateSQL renders the applications DDL for a column set.
//
// Why this exists:
//   - It is pure and deterministic, so we can unit test typing and identifier
//     quoting without a database.
func buildCreateSQL(columns []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(schema.TableApplications)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
		b.WriteString(" ")
		b.WriteString(columnType(c))
		if c == schema.ColID {
			b.WriteString(" UNIQUE")
		}
	}
	b.WriteString(")")
	return b.String()
}

// buildInsertSQL constructs a single multi-row INSERT with numbered
// placeholders and its args.
func buildInsertSQL(columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(schema.TableApplications)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
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
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// tableColumns returns the current applications columns in ordinal order,
// empty if the table does not exist.
func (r *Repo) tableColumns(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_name = $1 ORDER BY ordinal_position`,
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

// ensureColumns creates the table if needed and adds missing columns so CRUD
// writes can land between (or before) syncs.
func (r *Repo) ensureColumns(ctx context.Context, fields map[string]any) error {
	existing, err := r.tableColumns(ctx)
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		base := []string{schema.ColID, schema.ColCreated, schema.ColCohort, "application_status"}
		ddl := strings.Replace(buildCreateSQL(base), "CREATE TABLE", "CREATE TABLE IF NOT EXISTS", 1)
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
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
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			schema.TableApplications, pgIdent(c), columnType(c))
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
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

	q := fmt.Sprintf("SELECT * FROM %s WHERE %s LIKE $1", schema.TableApplications, pgIdent(schema.ColID))
	rows, err := r.pool.Query(ctx, q, prefix+"%")
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

	q := fmt.Sprintf("SELECT * FROM %s LIMIT $1", schema.TableApplications)
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	_, out, err := scanRows(rows)
	return out, err
}

func (r *Repo) GetApplication(ctx context.Context, id string) (map[string]any, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", schema.TableApplications, pgIdent(schema.ColID))
	rows, err := r.pool.Query(ctx, q, id)
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
		b.WriteString(pgIdent(c))
		args = append(args, fields[c])
	}
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("$%d", i+1))
	}
	b.WriteString(")")

	_, err := r.pool.Exec(ctx, b.String(), args...)
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
		b.WriteString(pgIdent(c))
		b.WriteString(fmt.Sprintf(" = $%d", p))
		args = append(args, fields[c])
		p++
	}
	b.WriteString(" WHERE ")
	b.WriteString(pgIdent(schema.ColID))
	b.WriteString(fmt.Sprintf(" = $%d", p))
	args = append(args, id)

	cmd, err := r.pool.Exec(ctx, b.String(), args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repo) DeleteApplication(ctx context.Context, id string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", schema.TableApplications, pgIdent(schema.ColID))
	cmd, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repo) CountApplications(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+schema.TableApplications).Scan(&n)
	return n, err
}

func (r *Repo) CountDistinct(ctx context.Context, column string) (int64, error) {
	q := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", pgIdent(column), schema.TableApplications)
	var n int64
	err := r.pool.QueryRow(ctx, q).Scan(&n)
	return n, err
}

// SumNumeric aggregates a numeric column. The cast mirrors the queries the
// original dashboard ran; if drift left the column as TEXT with non-numeric
// content, the resulting error surfaces to the stats layer, which degrades
// to zero instead of failing its caller.
func (r *Repo) SumNumeric(ctx context.Context, column string) (float64, error) {
	q := fmt.Sprintf("SELECT COALESCE(SUM(CAST(%s AS NUMERIC)), 0) FROM %s", pgIdent(column), schema.TableApplications)
	var sum float64
	err := r.pool.QueryRow(ctx, q).Scan(&sum)
	return sum, err
}

// scanRows materializes pgx result rows as maps with canonical scan values.
func scanRows(rows pgx.Rows) ([]string, []map[string]any, error) {
	descs := rows.FieldDescriptions()
	cols := make([]string, len(descs))
	for i, d := range descs {
		cols[i] = string(d.Name)
	}

	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
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
