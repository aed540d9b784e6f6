// Package enrich adds optional startup-website metadata to application rows.
//
// During a sync, each distinct startup_website_url can be fetched once and
// its HTML title / meta description recorded alongside the application. The
// step is strictly best-effort: an unreachable or malformed site produces an
// empty result, never a failed sync.
package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Site is the metadata extracted from a startup's website.
type Site struct {
	Title       string
	Description string
}

// maxBodyBytes bounds how much of a page is read. Titles and meta tags live
// in <head>, so a small prefix is enough.
const maxBodyBytes = 256 << 10

// Websites fetches and parses startup homepages.
type Websites struct {
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client

	// cache keeps one result per URL within a sync run; several applicants
	// from the same startup share a site.
	cache map[string]Site
}

// NewWebsites constructs an enricher with defaults.
func NewWebsites() *Websites {
	return &Websites{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		cache:      make(map[string]Site),
	}
}

// Lookup fetches rawURL and extracts site metadata.
//
// Edge cases:
//   - A scheme-less value like "acme.africa" is retried as https://.
//   - Non-200 responses, non-HTML content, and parse failures all return an
//     empty Site with the error; callers log and move on.
func (w *Websites) Lookup(ctx context.Context, rawURL string) (Site, error) {
	u := strings.TrimSpace(rawURL)
	if u == "" {
		return Site{}, fmt.Errorf("empty url")
	}
	if !strings.Contains(u, "://") {
		u = "https://" + u
	}
	if _, err := url.ParseRequestURI(u); err != nil {
		return Site{}, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	if w.cache != nil {
		if site, ok := w.cache[u]; ok {
			return site, nil
		}
	}

	site, err := w.fetch(ctx, u)
	if err != nil {
		return Site{}, err
	}
	if w.cache != nil {
		w.cache[u] = site
	}
	return site, nil
}

func (w *Websites) fetch(ctx context.Context, u string) (Site, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Site{}, err
	}
	req.Header.Set("Accept", "text/html")

	hc := w.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return Site{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Site{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Site{}, err
	}
	return ParseSite(string(body))
}

// ParseSite extracts title and description from an HTML document.
//
// Missing elements are not errors; they simply produce empty fields. The
// og:title/og:description fallbacks cover single-page apps that leave
// <title> empty.
func ParseSite(html string) (Site, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Site{}, fmt.Errorf("parse html: %w", err)
	}

	var s Site
	s.Title = clean(doc.Find("title").First().Text())
	if s.Title == "" {
		if v, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
			s.Title = clean(v)
		}
	}

	if v, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		s.Description = clean(v)
	}
	if s.Description == "" {
		if v, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
			s.Description = clean(v)
		}
	}
	return s, nil
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
