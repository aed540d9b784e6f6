// Package api serves the applications CRUD surface and the summary
// stats endpoint over plain net/http.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"appsync/internal/metrics"
	"appsync/internal/normalize"
	"appsync/internal/schema"
	"appsync/internal/stats"
	"appsync/internal/storage"
)

// DefaultListLimit caps GET /applications when no limit is given.
const DefaultListLimit = 1000

// Server routes application requests to a storage.Repository.
type Server struct {
	repo storage.Repository
	mux  *http.ServeMux

	// now is a test seam for created_at stamping.
	now func() time.Time
}

// NewServer builds the route table over the given repository.
func NewServer(repo storage.Repository) *Server {
	s := &Server{repo: repo, mux: http.NewServeMux(), now: time.Now}

	s.mux.HandleFunc("GET /{$}", s.handleHealth)
	s.mux.HandleFunc("GET /applications", s.handleList)
	s.mux.HandleFunc("POST /applications", s.handleCreate)
	s.mux.HandleFunc("GET /applications/{id}", s.handleGet)
	s.mux.HandleFunc("PUT /applications/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /applications/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	metrics.ObserveHistogram("api_request_duration_seconds",
		time.Since(start).Seconds(),
		metrics.Labels{"method": r.Method, "path": r.URL.Path})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "online"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.repo.ListApplications(r.Context(), limit)
	if err != nil {
		s.storageError(w, "list applications", err)
		return
	}
	if records == nil {
		records = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	record, err := s.repo.GetApplication(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storageError(w, "get application", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}

	id := schema.NewManualID()
	fields[schema.ColID] = id
	fields[schema.ColCreated] = s.now().UTC()
	if _, present := fields["application_status"]; !present {
		fields["application_status"] = schema.DefaultStatus
	}

	if err := s.repo.InsertApplication(r.Context(), fields); err != nil {
		s.storageError(w, "insert application", err)
		return
	}
	metrics.IncCounter("api_manual_records_total", 1, metrics.Labels{"op": "create"})
	writeJSON(w, http.StatusCreated, map[string]string{schema.ColID: id})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	id := r.PathValue("id")
	if err := s.repo.UpdateApplication(r.Context(), id, fields); err != nil {
		s.storageError(w, "update application", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{schema.ColID: id})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.repo.DeleteApplication(r.Context(), id); err != nil {
		s.storageError(w, "delete application", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	figures, failed := stats.Collect(r.Context(), s.repo)

	body := map[string]any{
		"total_applications": figures.TotalApplications,
		"distinct_countries": figures.DistinctCountries,
		"total_raised_usd":   figures.TotalRaisedUSD,
	}
	if len(failed) > 0 {
		body["unavailable"] = failed
	}
	writeJSON(w, http.StatusOK, body)
}

// storageError maps repository failures onto status codes. Only the
// not-found sentinel is a client error; everything else is a 500
// carrying the cause so callers can see what broke.
func (s *Server) storageError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "application not found")
		return
	}
	log.Printf("api: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// decodeFields reads a flat JSON object body. A malformed body or a
// reserved-column write is rejected before touching storage. Keys are
// reconciled to canonical column names and values go through the same
// normalization as synced records, so manual writes obey the per-column
// type contract too.
func decodeFields(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return nil, false
	}
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		col := schema.Reconcile(k)
		if col == schema.ColID {
			writeError(w, http.StatusBadRequest, schema.ColID+" is assigned by the server")
			return nil, false
		}
		fields[col] = normalize.Value(v, schema.TypeOf(col))
	}
	return fields, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
