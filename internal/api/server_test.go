package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"appsync/internal/schema"
	"appsync/internal/storage"
)

// fakeRepo is an in-memory Repository for handler tests.
type fakeRepo struct {
	storage.Repository

	records map[string]map[string]any

	countErr    error
	distinctErr error
	sumErr      error
	insertErr   error

	inserted map[string]any
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]map[string]any)}
}

func (f *fakeRepo) Close() {}

func (f *fakeRepo) ListApplications(ctx context.Context, limit int) ([]map[string]any, error) {
	var out []map[string]any
	for _, rec := range f.records {
		if len(out) >= limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeRepo) GetApplication(ctx context.Context, id string) (map[string]any, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRepo) InsertApplication(ctx context.Context, fields map[string]any) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = fields
	id, _ := fields[schema.ColID].(string)
	f.records[id] = fields
	return nil
}

func (f *fakeRepo) UpdateApplication(ctx context.Context, id string, fields map[string]any) error {
	rec, ok := f.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

func (f *fakeRepo) DeleteApplication(ctx context.Context, id string) error {
	if _, ok := f.records[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeRepo) CountApplications(ctx context.Context) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return int64(len(f.records)), nil
}

func (f *fakeRepo) CountDistinct(ctx context.Context, column string) (int64, error) {
	if f.distinctErr != nil {
		return 0, f.distinctErr
	}
	seen := map[any]bool{}
	for _, rec := range f.records {
		if v, ok := rec[column]; ok && v != nil {
			seen[v] = true
		}
	}
	return int64(len(seen)), nil
}

func (f *fakeRepo) SumNumeric(ctx context.Context, column string) (float64, error) {
	if f.sumErr != nil {
		return 0, f.sumErr
	}
	var sum float64
	for _, rec := range f.records {
		if v, ok := rec[column].(float64); ok {
			sum += v
		}
	}
	return sum, nil
}

func doJSON(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid JSON response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, out
}

// TestHealth verifies the root endpoint.
func TestHealth(t *testing.T) {
	srv := NewServer(newFakeRepo())
	w, body := doJSON(t, srv, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || body["status"] != "online" {
		t.Fatalf("GET / = %d %v", w.Code, body)
	}
}

// TestCreate_DefaultsAndID verifies 201, the manual identifier prefix, the
// default status, and the server-side created_at stamp.
func TestCreate_DefaultsAndID(t *testing.T) {
	repo := newFakeRepo()
	srv := NewServer(repo)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv.now = func() time.Time { return fixed }

	w, body := doJSON(t, srv, http.MethodPost, "/applications", `{"startup_name": "Acme"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /applications = %d, want 201", w.Code)
	}

	id, _ := body[schema.ColID].(string)
	if !schema.IsManualID(id) {
		t.Fatalf("returned id=%q, want %s prefix", id, schema.ManualIDPrefix)
	}
	if repo.inserted["application_status"] != schema.DefaultStatus {
		t.Fatalf("application_status=%v, want %q", repo.inserted["application_status"], schema.DefaultStatus)
	}
	if repo.inserted[schema.ColCreated] != fixed {
		t.Fatalf("created_at=%v, want %v", repo.inserted[schema.ColCreated], fixed)
	}
	if repo.inserted["startup_name"] != "Acme" {
		t.Fatalf("startup_name=%v", repo.inserted["startup_name"])
	}
}

// TestCreate_ExplicitStatusKept verifies a client-provided status wins over
// the default.
func TestCreate_ExplicitStatusKept(t *testing.T) {
	repo := newFakeRepo()
	srv := NewServer(repo)

	w, _ := doJSON(t, srv, http.MethodPost, "/applications", `{"application_status": "Accepted"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST = %d, want 201", w.Code)
	}
	if repo.inserted["application_status"] != "Accepted" {
		t.Fatalf("application_status=%v, want Accepted", repo.inserted["application_status"])
	}
}

// TestCreate_NormalizesValues verifies body values pass through the same
// per-column normalization as synced records, so numeric columns never
// store raw free text.
func TestCreate_NormalizesValues(t *testing.T) {
	repo := newFakeRepo()
	srv := NewServer(repo)

	w, _ := doJSON(t, srv, http.MethodPost, "/applications",
		`{"total_raised_usd": "$5,000 USD", "runway_months": "N/A", "startup_name": "Acme"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST = %d, want 201", w.Code)
	}
	if repo.inserted["total_raised_usd"] != 5000.0 {
		t.Fatalf("total_raised_usd=%v (%T), want 5000.0", repo.inserted["total_raised_usd"], repo.inserted["total_raised_usd"])
	}
	if repo.inserted["runway_months"] != nil {
		t.Fatalf("runway_months=%v, want nil for unparseable numeric", repo.inserted["runway_months"])
	}
	if repo.inserted["startup_name"] != "Acme" {
		t.Fatalf("startup_name=%v", repo.inserted["startup_name"])
	}
}

// TestUpdate_NormalizesValues verifies the same coercion on updates.
func TestUpdate_NormalizesValues(t *testing.T) {
	repo := newFakeRepo()
	repo.records["rec001"] = map[string]any{schema.ColID: "rec001"}
	srv := NewServer(repo)

	w, _ := doJSON(t, srv, http.MethodPut, "/applications/rec001", `{"total_raised_usd": "1,200.50"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT = %d, want 200", w.Code)
	}
	if repo.records["rec001"]["total_raised_usd"] != 1200.50 {
		t.Fatalf("total_raised_usd=%v, want 1200.50", repo.records["rec001"]["total_raised_usd"])
	}
}

// TestCreate_StorageFailureCarriesCause verifies a repository failure
// surfaces the cause in the 500 body, not just the server log.
func TestCreate_StorageFailureCarriesCause(t *testing.T) {
	repo := newFakeRepo()
	repo.insertErr = errors.New("connection refused")
	srv := NewServer(repo)

	w, body := doJSON(t, srv, http.MethodPost, "/applications", `{"startup_name": "Acme"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("POST = %d, want 500", w.Code)
	}
	msg, _ := body["error"].(string)
	if !strings.Contains(msg, "connection refused") {
		t.Fatalf("error=%q, want the underlying cause", msg)
	}
}

// TestCreate_BadBodies verifies malformed and reserved-column bodies are
// rejected before storage.
func TestCreate_BadBodies(t *testing.T) {
	srv := NewServer(newFakeRepo())

	w, _ := doJSON(t, srv, http.MethodPost, "/applications", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", w.Code)
	}

	w, _ = doJSON(t, srv, http.MethodPost, "/applications", `{"airtable_id": "recHijack"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("reserved column = %d, want 400", w.Code)
	}
}

// TestGet_NotFoundAndFound verifies the 404 mapping.
func TestGet_NotFoundAndFound(t *testing.T) {
	repo := newFakeRepo()
	repo.records["rec001"] = map[string]any{schema.ColID: "rec001", "startup_name": "Acme"}
	srv := NewServer(repo)

	w, body := doJSON(t, srv, http.MethodGet, "/applications/rec001", "")
	if w.Code != http.StatusOK || body["startup_name"] != "Acme" {
		t.Fatalf("GET existing = %d %v", w.Code, body)
	}

	w, _ = doJSON(t, srv, http.MethodGet, "/applications/recMissing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET missing = %d, want 404", w.Code)
	}
}

// TestList verifies count envelope and limit validation.
func TestList(t *testing.T) {
	repo := newFakeRepo()
	repo.records["rec1"] = map[string]any{schema.ColID: "rec1"}
	repo.records["rec2"] = map[string]any{schema.ColID: "rec2"}
	srv := NewServer(repo)

	w, body := doJSON(t, srv, http.MethodGet, "/applications", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /applications = %d", w.Code)
	}
	if body["count"] != float64(2) {
		t.Fatalf("count=%v, want 2", body["count"])
	}

	w, body = doJSON(t, srv, http.MethodGet, "/applications?limit=1", "")
	if w.Code != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("limited list = %d %v", w.Code, body)
	}

	w, _ = doJSON(t, srv, http.MethodGet, "/applications?limit=zero", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", w.Code)
	}
}

// TestUpdateDelete_NotFound verifies 404 on absent identifiers for writes.
func TestUpdateDelete_NotFound(t *testing.T) {
	repo := newFakeRepo()
	repo.records["rec001"] = map[string]any{schema.ColID: "rec001"}
	srv := NewServer(repo)

	w, _ := doJSON(t, srv, http.MethodPut, "/applications/rec001", `{"application_status": "Accepted"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT existing = %d", w.Code)
	}
	if repo.records["rec001"]["application_status"] != "Accepted" {
		t.Fatalf("update not applied: %v", repo.records["rec001"])
	}

	w, _ = doJSON(t, srv, http.MethodPut, "/applications/recMissing", `{"application_status": "Accepted"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("PUT missing = %d, want 404", w.Code)
	}

	w, _ = doJSON(t, srv, http.MethodPut, "/applications/rec001", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("PUT empty body = %d, want 400", w.Code)
	}

	w, _ = doJSON(t, srv, http.MethodDelete, "/applications/rec001", "")
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE existing = %d", w.Code)
	}
	w, _ = doJSON(t, srv, http.MethodDelete, "/applications/rec001", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("DELETE twice = %d, want 404", w.Code)
	}
}

// TestStats_DegradesToZero verifies that aggregate failures yield zeros and
// an unavailability annotation instead of a 500.
func TestStats_DegradesToZero(t *testing.T) {
	repo := newFakeRepo()
	repo.records["rec1"] = map[string]any{
		schema.ColID: "rec1", schema.ColCountry: "Kenya", "total_raised_usd": 100.0,
	}
	repo.sumErr = errors.New("column has drifted to text")
	srv := NewServer(repo)

	w, body := doJSON(t, srv, http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /stats = %d, want 200 despite aggregate failure", w.Code)
	}
	if body["total_applications"] != float64(1) {
		t.Fatalf("total_applications=%v, want 1", body["total_applications"])
	}
	if body["total_raised_usd"] != float64(0) {
		t.Fatalf("total_raised_usd=%v, want 0", body["total_raised_usd"])
	}
	unavailable, _ := body["unavailable"].([]any)
	if len(unavailable) != 1 || unavailable[0] != "total_raised_usd" {
		t.Fatalf("unavailable=%v, want [total_raised_usd]", body["unavailable"])
	}
}
