// Package stats computes summary figures over the applications table.
//
// Why this exists: the dashboard wants a handful of headline numbers
// without caring which columns survived the last sync. Every figure
// degrades to zero when its backing column is missing or unreadable,
// so a partially synced table still yields a usable response.
package stats

import (
	"context"
	"log"

	"appsync/internal/schema"
	"appsync/internal/storage"
)

// Stats is the summary payload served by the API.
type Stats struct {
	TotalApplications int64   `json:"total_applications"`
	DistinctCountries int64   `json:"distinct_countries"`
	TotalRaisedUSD    float64 `json:"total_raised_usd"`
}

// Collect gathers all figures. It never returns an error: each figure
// falls back to zero independently, and the set of failed figures comes
// back as column names for the caller to annotate the response with.
func Collect(ctx context.Context, repo storage.Repository) (Stats, []string) {
	var s Stats
	var failed []string

	total, err := repo.CountApplications(ctx)
	if err != nil {
		log.Printf("stats: count applications: %v", err)
		failed = append(failed, "total_applications")
	} else {
		s.TotalApplications = total
	}

	countries, err := countDistinctCountries(ctx, repo)
	if err != nil {
		log.Printf("stats: distinct countries: %v", err)
		failed = append(failed, "distinct_countries")
	} else {
		s.DistinctCountries = countries
	}

	raised, err := repo.SumNumeric(ctx, "total_raised_usd")
	if err != nil {
		log.Printf("stats: total raised: %v", err)
		failed = append(failed, "total_raised_usd")
	} else {
		s.TotalRaisedUSD = raised
	}

	return s, failed
}

// countDistinctCountries tolerates both casings of the country column.
// Older table generations carried it lowercased.
func countDistinctCountries(ctx context.Context, repo storage.Repository) (int64, error) {
	n, err := repo.CountDistinct(ctx, schema.ColCountry)
	if err == nil {
		return n, nil
	}
	return repo.CountDistinct(ctx, "country")
}
