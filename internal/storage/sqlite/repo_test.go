package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"appsync/internal/schema"
	"appsync/internal/storage"
)

func testRepo(t *testing.T) storage.Repository {
	t.Helper()
	repo, err := New(context.Background(), storage.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "applications.db"),
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

// TestBuildCreateSQL verifies DDL typing and identifier uniqueness without
// a database.
func TestBuildCreateSQL(t *testing.T) {
	got := buildCreateSQL([]string{schema.ColID, "total_raised_usd", "startup_name", "created_at"})

	wantParts := []string{
		`"airtable_id" TEXT UNIQUE`,
		`"total_raised_usd" REAL`,
		`"startup_name" TEXT`,
		`"created_at" TEXT`,
	}
	for _, p := range wantParts {
		if !strings.Contains(got, p) {
			t.Fatalf("DDL missing %q:\n%s", p, got)
		}
	}
}

// TestBuildInsertSQL verifies placeholder counts and time binding.
func TestBuildInsertSQL(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sqlText, args := buildInsertSQL(
		[]string{schema.ColID, "created_at"},
		[][]any{{"rec1", ts}, {"rec2", nil}},
	)

	if want := "VALUES (?, ?), (?, ?)"; !strings.Contains(sqlText, want) {
		t.Fatalf("insert SQL missing %q:\n%s", want, sqlText)
	}
	if len(args) != 4 {
		t.Fatalf("args=%d, want 4", len(args))
	}
	if args[1] != "2024-03-01T12:00:00Z" {
		t.Fatalf("time arg=%v, want RFC3339 string", args[1])
	}
}

// TestReplaceAndRescueRoundTrip verifies the core sync persistence cycle:
// replace writes all rows, a later rescue read recovers manual rows by
// identifier prefix.
func TestReplaceAndRescueRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)

	columns := []string{schema.ColID, "startup_name", "total_raised_usd"}
	rows := [][]any{
		{"rec001", "Acme", 1200.5},
		{"recManualABC123", "Manual Startup", nil},
	}

	n, err := repo.ReplaceApplications(ctx, columns, rows)
	if err != nil {
		t.Fatalf("ReplaceApplications() err=%v", err)
	}
	if n != 2 {
		t.Fatalf("rows written=%d, want 2", n)
	}

	gotCols, recs, err := repo.SelectByIDPrefix(ctx, schema.ManualIDPrefix)
	if err != nil {
		t.Fatalf("SelectByIDPrefix() err=%v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("rescued=%d, want 1", len(recs))
	}
	if recs[0][schema.ColID] != "recManualABC123" {
		t.Fatalf("rescued id=%v", recs[0][schema.ColID])
	}
	if len(gotCols) != 3 {
		t.Fatalf("rescued columns=%v", gotCols)
	}

	// A second replace with disjoint columns must rebuild the table shape.
	if _, err := repo.ReplaceApplications(ctx, []string{schema.ColID, "Country"}, [][]any{{"rec002", "Kenya"}}); err != nil {
		t.Fatalf("second ReplaceApplications() err=%v", err)
	}
	got, err := repo.GetApplication(ctx, "rec002")
	if err != nil {
		t.Fatalf("GetApplication() err=%v", err)
	}
	if got["Country"] != "Kenya" {
		t.Fatalf("Country=%v, want Kenya", got["Country"])
	}
}

// TestSelectByIDPrefix_EmptyDatabase verifies rescue against a fresh
// database is a no-op, not an error.
func TestSelectByIDPrefix_EmptyDatabase(t *testing.T) {
	repo := testRepo(t)
	cols, recs, err := repo.SelectByIDPrefix(context.Background(), schema.ManualIDPrefix)
	if err != nil {
		t.Fatalf("SelectByIDPrefix() err=%v", err)
	}
	if cols != nil || recs != nil {
		t.Fatalf("got (%v, %v), want empty", cols, recs)
	}
}

// TestCRUDLifecycle exercises insert, get, update, delete including the
// not-found sentinel and on-demand column creation.
func TestCRUDLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)

	fields := map[string]any{
		schema.ColID:         "recManual00000001",
		schema.ColCreated:    time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC),
		"startup_name":       "Acme",
		"application_status": "Applied",
	}
	if err := repo.InsertApplication(ctx, fields); err != nil {
		t.Fatalf("InsertApplication() err=%v", err)
	}

	got, err := repo.GetApplication(ctx, "recManual00000001")
	if err != nil {
		t.Fatalf("GetApplication() err=%v", err)
	}
	if got["startup_name"] != "Acme" || got["application_status"] != "Applied" {
		t.Fatalf("unexpected record: %v", got)
	}

	// Update with a brand-new column; the table must grow.
	err = repo.UpdateApplication(ctx, "recManual00000001", map[string]any{
		"application_status": "Accepted",
		"interview_notes":    "strong team",
	})
	if err != nil {
		t.Fatalf("UpdateApplication() err=%v", err)
	}
	got, err = repo.GetApplication(ctx, "recManual00000001")
	if err != nil {
		t.Fatalf("GetApplication() err=%v", err)
	}
	if got["application_status"] != "Accepted" || got["interview_notes"] != "strong team" {
		t.Fatalf("update not applied: %v", got)
	}

	if err := repo.UpdateApplication(ctx, "recNoSuch", map[string]any{"startup_name": "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("update missing err=%v, want ErrNotFound", err)
	}

	if err := repo.DeleteApplication(ctx, "recManual00000001"); err != nil {
		t.Fatalf("DeleteApplication() err=%v", err)
	}
	if err := repo.DeleteApplication(ctx, "recManual00000001"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete err=%v, want ErrNotFound", err)
	}
	if _, err := repo.GetApplication(ctx, "recManual00000001"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get deleted err=%v, want ErrNotFound", err)
	}
}

// TestListApplications verifies limit handling.
func TestListApplications(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)

	columns := []string{schema.ColID}
	rows := [][]any{{"rec1"}, {"rec2"}, {"rec3"}}
	if _, err := repo.ReplaceApplications(ctx, columns, rows); err != nil {
		t.Fatalf("ReplaceApplications() err=%v", err)
	}

	recs, err := repo.ListApplications(ctx, 2)
	if err != nil {
		t.Fatalf("ListApplications() err=%v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("listed=%d, want 2", len(recs))
	}

	recs, err = repo.ListApplications(ctx, 0)
	if err != nil {
		t.Fatalf("ListApplications(0) err=%v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("listed=%d, want 3 with default limit", len(recs))
	}
}

// TestAggregates verifies counting and the drift-tolerant numeric sum.
func TestAggregates(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)

	columns := []string{schema.ColID, "Country", "total_raised_usd"}
	rows := [][]any{
		{"rec1", "Kenya", 100.0},
		{"rec2", "Kenya", "abc"}, // drifted text in a numeric column
		{"rec3", "Ghana", nil},
		{"rec4", "Nigeria", 50.5},
	}
	if _, err := repo.ReplaceApplications(ctx, columns, rows); err != nil {
		t.Fatalf("ReplaceApplications() err=%v", err)
	}

	total, err := repo.CountApplications(ctx)
	if err != nil || total != 4 {
		t.Fatalf("CountApplications()=(%d,%v), want 4", total, err)
	}

	countries, err := repo.CountDistinct(ctx, "Country")
	if err != nil || countries != 3 {
		t.Fatalf("CountDistinct()=(%d,%v), want 3", countries, err)
	}

	sum, err := repo.SumNumeric(ctx, "total_raised_usd")
	if err != nil {
		t.Fatalf("SumNumeric() err=%v", err)
	}
	if sum != 150.5 {
		t.Fatalf("SumNumeric()=%v, want 150.5 (text and nil count as zero)", sum)
	}
}
