package pipeline

import (
	"context"
	"errors"
	"testing"

	"appsync/internal/airtable"
	"appsync/internal/config"
	"appsync/internal/schema"
	"appsync/internal/storage"
)

type fakeFetcher struct {
	records []airtable.Record
	err     error
}

func (f *fakeFetcher) FetchAll(ctx context.Context, tables []string) ([]airtable.Record, error) {
	return f.records, f.err
}

// fakeRepo records replace calls and serves canned rescue rows.
type fakeRepo struct {
	storage.Repository

	rescueColumns []string
	rescueRecords []map[string]any
	rescueErr     error

	replacedColumns []string
	replacedRows    [][]any
	replaceCalls    int
	replaceErr      error

	closed bool
}

func (f *fakeRepo) Close() { f.closed = true }

func (f *fakeRepo) SelectByIDPrefix(ctx context.Context, prefix string) ([]string, []map[string]any, error) {
	if f.rescueErr != nil {
		return nil, nil, f.rescueErr
	}
	return f.rescueColumns, f.rescueRecords, nil
}

func (f *fakeRepo) ReplaceApplications(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	f.replaceCalls++
	if f.replaceErr != nil {
		return 0, f.replaceErr
	}
	f.replacedColumns = columns
	f.replacedRows = rows
	return int64(len(rows)), nil
}

func testRunner(fetcher Fetcher, repo *fakeRepo) *Runner {
	return &Runner{
		Fetcher: fetcher,
		NewRepository: func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
			return repo, nil
		},
	}
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Airtable.BaseID = "appTESTBASE"
	cfg.Airtable.Tables = []string{"AA1 Application Records"}
	cfg.Storage.Kind = "sqlite"
	cfg.Storage.DSN = ":memory:"
	return cfg
}

// TestRun_FetchRescueReplace is the happy path: fetched and rescued rows
// both land in the replacement table.
func TestRun_FetchRescueReplace(t *testing.T) {
	fetcher := &fakeFetcher{records: []airtable.Record{record(
		[2]any{schema.ColID, "rec001"},
		[2]any{"What's your email?", "jane@example.com"},
	)}}
	repo := &fakeRepo{
		rescueColumns: []string{schema.ColID, "startup_name"},
		rescueRecords: []map[string]any{
			{schema.ColID: "recManualABC123", "startup_name": "Acme"},
		},
	}

	if err := testRunner(fetcher, repo).Run(context.Background(), testConfig()); err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if !repo.closed {
		t.Fatalf("repository not closed")
	}
	if repo.replaceCalls != 1 {
		t.Fatalf("replace calls=%d, want 1", repo.replaceCalls)
	}
	if len(repo.replacedRows) != 2 {
		t.Fatalf("replaced rows=%d, want 2", len(repo.replacedRows))
	}
	if repo.replacedColumns[0] != schema.ColID {
		t.Fatalf("first column=%q, want %q", repo.replacedColumns[0], schema.ColID)
	}

	var sawManual bool
	for _, row := range repo.replacedRows {
		if row[0] == "recManualABC123" {
			sawManual = true
		}
	}
	if !sawManual {
		t.Fatalf("manual record missing from replacement: %v", repo.replacedRows)
	}
}

// TestRun_OutageKeepsManualRecords is the destructive-resync guarantee: a
// fetch that yields nothing still rewrites the table with the manual rows.
func TestRun_OutageKeepsManualRecords(t *testing.T) {
	repo := &fakeRepo{
		rescueColumns: []string{schema.ColID, "startup_name"},
		rescueRecords: []map[string]any{
			{schema.ColID: "recManualABC123", "startup_name": "Acme"},
		},
	}

	if err := testRunner(&fakeFetcher{}, repo).Run(context.Background(), testConfig()); err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if repo.replaceCalls != 1 {
		t.Fatalf("replace calls=%d, want 1", repo.replaceCalls)
	}
	if len(repo.replacedRows) != 1 || repo.replacedRows[0][0] != "recManualABC123" {
		t.Fatalf("replaced rows=%v, want only the manual record", repo.replacedRows)
	}
}

// TestRun_NothingToWriteSkipsReplace verifies an empty fetch plus an empty
// rescue leaves the table alone.
func TestRun_NothingToWriteSkipsReplace(t *testing.T) {
	repo := &fakeRepo{}
	if err := testRunner(&fakeFetcher{}, repo).Run(context.Background(), testConfig()); err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if repo.replaceCalls != 0 {
		t.Fatalf("replace calls=%d, want 0", repo.replaceCalls)
	}
}

// TestRun_RescueFailureIsFatal verifies the sync aborts before the
// destructive replace when manual rows cannot be read.
func TestRun_RescueFailureIsFatal(t *testing.T) {
	repo := &fakeRepo{rescueErr: errors.New("connection reset")}
	fetcher := &fakeFetcher{records: []airtable.Record{record(
		[2]any{schema.ColID, "rec001"},
	)}}

	err := testRunner(fetcher, repo).Run(context.Background(), testConfig())
	if err == nil {
		t.Fatalf("Run() err=nil, want rescue failure")
	}
	if repo.replaceCalls != 0 {
		t.Fatalf("replace calls=%d, want 0 after rescue failure", repo.replaceCalls)
	}
}

// TestRun_FetchErrorAborts verifies a whole-run fetch error (context
// cancellation) stops the sync.
func TestRun_FetchErrorAborts(t *testing.T) {
	repo := &fakeRepo{}
	fetcher := &fakeFetcher{err: context.Canceled}

	if err := testRunner(fetcher, repo).Run(context.Background(), testConfig()); err == nil {
		t.Fatalf("Run() err=nil, want fetch error")
	}
	if repo.replaceCalls != 0 {
		t.Fatalf("replace calls=%d, want 0", repo.replaceCalls)
	}
}

// TestRun_ReplaceErrorSurfaces verifies persistence failures reach the
// caller for operator retry.
func TestRun_ReplaceErrorSurfaces(t *testing.T) {
	repo := &fakeRepo{replaceErr: errors.New("disk full")}
	fetcher := &fakeFetcher{records: []airtable.Record{record(
		[2]any{schema.ColID, "rec001"},
	)}}

	if err := testRunner(fetcher, repo).Run(context.Background(), testConfig()); err == nil {
		t.Fatalf("Run() err=nil, want replace error")
	}
}
