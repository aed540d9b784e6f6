package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to create a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// ErrNotFound is returned by single-row operations when no application row
// matched the given identifier. The API layer maps it to 404.
var ErrNotFound = errors.New("storage: application not found")

// Repository is a backend-agnostic interface over the single wide
// applications table.
//
// IMPORTANT: This interface is intentionally focused on the operations the
// sync pipeline, the CRUD API, and the stats layer need. Each backend
// implements the semantics in its own idiomatic way (Postgres ALTER TABLE
// ... IF NOT EXISTS, SQLite PRAGMA introspection, etc).
type Repository interface {
	// Close releases backend resources. Treat as "call once" at shutdown.
	Close()

	// ReplaceApplications atomically replaces the full table contents with
	// the given column-aligned rows. Destructive by design: callers must run
	// the rescue-and-merge step immediately before, never independently.
	ReplaceApplications(ctx context.Context, columns []string, rows [][]any) (int64, error)

	// SelectByIDPrefix returns all rows whose identifier starts with prefix,
	// as column list plus one map per row.
	//
	// Edge cases:
	//   - A missing applications table yields empty results, not an error;
	//     the first sync of a fresh database has nothing to rescue.
	SelectByIDPrefix(ctx context.Context, prefix string) ([]string, []map[string]any, error)

	// CRUD operations. Each is a single-row write committed atomically.
	// Update and Delete return ErrNotFound when no row matched.
	ListApplications(ctx context.Context, limit int) ([]map[string]any, error)
	GetApplication(ctx context.Context, id string) (map[string]any, error)
	InsertApplication(ctx context.Context, fields map[string]any) error
	UpdateApplication(ctx context.Context, id string, fields map[string]any) error
	DeleteApplication(ctx context.Context, id string) error

	// Aggregates for the stats layer. A query against an absent column
	// returns an error; graceful degradation is the caller's job.
	CountApplications(ctx context.Context) (int64, error)
	CountDistinct(ctx context.Context, column string) (int64, error)
	SumNumeric(ctx context.Context, column string) (float64, error)
}

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Failing
//     fast avoids ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
