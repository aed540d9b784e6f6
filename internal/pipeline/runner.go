package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"appsync/internal/airtable"
	"appsync/internal/config"
	"appsync/internal/enrich"
	"appsync/internal/metrics"
	"appsync/internal/schema"
	"appsync/internal/storage"
)

// Fetcher is the record source seam. Production uses *airtable.Client.
type Fetcher interface {
	FetchAll(ctx context.Context, tables []string) ([]airtable.Record, error)
}

// WebsiteLookup is the optional enrichment seam.
type WebsiteLookup interface {
	Lookup(ctx context.Context, rawURL string) (enrich.Site, error)
}

// Runner executes one full sync: fetch -> reconcile/normalize -> rescue ->
// merge -> replace.
//
// Operational constraint: syncs must not run concurrently. Two overlapping
// ReplaceApplications calls race on the same destructive table replace; the
// deployment must serialize runs (single scheduler, one instance). The
// runner does not lock internally.
type Runner struct {
	Fetcher Fetcher

	// NewRepository is the storage factory seam.
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	// Websites, when non-nil, fills website_title/website_description.
	Websites WebsiteLookup
}

// NewDefaultRunner wires the production fetcher, storage factory, and
// optional website enricher from config.
func NewDefaultRunner(cfg config.Config) *Runner {
	r := &Runner{
		Fetcher:       airtable.NewClient(cfg.Airtable.BaseID, cfg.Airtable.APIKey()),
		NewRepository: storage.New,
	}
	if cfg.Enrich.Websites {
		r.Websites = enrich.NewWebsites()
	}
	return r
}

// Run performs one sync invocation.
//
// Error taxonomy:
//   - Remote-source trouble is absorbed per cohort inside the fetcher.
//   - A rescue read failure is fatal: replacing the table without knowing
//     the manual rows would silently destroy them.
//   - A replace failure is fatal and leaves table state undefined; the
//     operator retries the whole sync, never patches.
func (r *Runner) Run(ctx context.Context, cfg config.Config) error {
	repo, err := r.NewRepository(ctx, storage.Config{
		Kind: cfg.Storage.Kind,
		DSN:  cfg.Storage.ExpandedDSN(),
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer repo.Close()

	var fetched []airtable.Record
	err = r.step("fetch", func() error {
		var ferr error
		fetched, ferr = r.Fetcher.FetchAll(ctx, cfg.Airtable.Tables)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	metrics.IncCounter("sync_records_total", float64(len(fetched)), metrics.Labels{"kind": "fetched"})
	log.Printf("sync: fetched %d records from %d cohorts", len(fetched), len(cfg.Airtable.Tables))

	built := BuildRows(fetched)
	if r.Websites != nil {
		_ = r.step("enrich", func() error {
			r.enrichWebsites(ctx, built)
			return nil
		})
	}

	var rescued []Row
	err = r.step("rescue", func() error {
		cols, recs, rerr := repo.SelectByIDPrefix(ctx, schema.ManualIDPrefix)
		if rerr != nil {
			return rerr
		}
		rescued = RowsFromStored(cols, recs)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rescue manual records: %w", err)
	}
	metrics.IncCounter("sync_records_total", float64(len(rescued)), metrics.Labels{"kind": "rescued"})
	log.Printf("sync: rescued %d manually created records", len(rescued))

	merged := Merge(rescued, built)
	if len(merged) == 0 {
		// Nothing fetched and nothing to rescue. Leaving the table alone
		// beats replacing it with emptiness after what is most likely a
		// full source outage.
		log.Printf("sync: no records found; table left untouched")
		return nil
	}

	columns := UnionColumns(merged)
	rows := Materialize(columns, merged)

	var persisted int64
	err = r.step("replace", func() error {
		var perr error
		persisted, perr = repo.ReplaceApplications(ctx, columns, rows)
		return perr
	})
	if err != nil {
		return fmt.Errorf("replace applications: %w", err)
	}
	metrics.IncCounter("sync_records_total", float64(persisted), metrics.Labels{"kind": "persisted"})
	log.Printf("sync: replaced applications with %d rows, %d columns", persisted, len(columns))
	return nil
}

// step times a named pipeline stage and reports its outcome.
func (r *Runner) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"
	if err != nil {
		status = "error"
	}
	labels := metrics.Labels{"step": name, "status": status}
	metrics.IncCounter("sync_step_total", 1, labels)
	metrics.ObserveHistogram("sync_step_duration_seconds", time.Since(start).Seconds(), labels)
	return err
}

// enrichWebsites fills website metadata columns in place. Best-effort: a
// failed lookup leaves the row as it was.
func (r *Runner) enrichWebsites(ctx context.Context, rows []Row) {
	for i := range rows {
		rawURL, ok := rows[i].Get("startup_website_url").(string)
		if !ok || rawURL == "" {
			continue
		}
		if rows[i].Get("website_title") != nil {
			continue
		}

		site, err := r.Websites.Lookup(ctx, rawURL)
		if err != nil {
			continue
		}
		if site.Title != "" {
			rows[i].Set("website_title", site.Title)
		}
		if site.Description != "" {
			rows[i].Set("website_description", site.Description)
		}
	}
}
