package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestParseSite verifies title/description extraction and fallbacks.
func TestParseSite(t *testing.T) {
	tests := []struct {
		name string
		html string
		want Site
	}{
		{
			name: "title_and_meta_description",
			html: `<html><head>
				<title>  Acme  Analytics </title>
				<meta name="description" content="Dashboards for farms">
			</head></html>`,
			want: Site{Title: "Acme Analytics", Description: "Dashboards for farms"},
		},
		{
			name: "og_fallbacks",
			html: `<html><head>
				<title></title>
				<meta property="og:title" content="Acme">
				<meta property="og:description" content="From og">
			</head></html>`,
			want: Site{Title: "Acme", Description: "From og"},
		},
		{
			name: "meta_description_beats_og",
			html: `<html><head>
				<meta name="description" content="plain wins">
				<meta property="og:description" content="og loses">
			</head></html>`,
			want: Site{Description: "plain wins"},
		},
		{
			name: "nothing_extractable",
			html: `<html><body><p>hi</p></body></html>`,
			want: Site{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseSite(tc.html)
			if err != nil {
				t.Fatalf("ParseSite() err=%v", err)
			}
			if got != tc.want {
				t.Fatalf("ParseSite()=%+v, want %+v", got, tc.want)
			}
		})
	}
}

// TestLookup_CachesPerURL verifies one fetch per URL within a run.
func TestLookup_CachesPerURL(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `<html><head><title>Cached</title></head></html>`)
	}))
	defer srv.Close()

	ws := NewWebsites()
	ws.HTTPClient = srv.Client()

	for i := 0; i < 3; i++ {
		site, err := ws.Lookup(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("Lookup() err=%v", err)
		}
		if site.Title != "Cached" {
			t.Fatalf("Title=%q", site.Title)
		}
	}
	if hits != 1 {
		t.Fatalf("server hits=%d, want 1", hits)
	}
}

// TestLookup_Errors verifies the failure paths stay errors, not panics.
func TestLookup_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ws := NewWebsites()
	ws.HTTPClient = srv.Client()

	if _, err := ws.Lookup(context.Background(), ""); err == nil {
		t.Fatalf("empty url: err=nil")
	}
	if _, err := ws.Lookup(context.Background(), srv.URL); err == nil {
		t.Fatalf("non-200: err=nil")
	}
}
