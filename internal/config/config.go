// Package config defines the JSON sync configuration and its validation.
//
// Secrets never live in the file: the Airtable key is read from the
// environment, and the DSN supports ${VAR} expansion so deployments can
// inject credentials (e.g. the Render DATABASE_URL).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Config is the root configuration for both binaries.
type Config struct {
	// Job is the logical job name used for metrics tagging.
	Job string `json:"job"`

	Airtable Airtable `json:"airtable"`
	Storage  Storage  `json:"storage"`
	Enrich   Enrich   `json:"enrich"`
}

// Airtable locates the source base and its cohort tables.
type Airtable struct {
	BaseID string `json:"base_id"`
	// Tables are the cohort table names, fetched in order.
	Tables []string `json:"tables"`
	// APIKeyEnv names the environment variable holding the API key.
	// Defaults to AIRTABLE_API_KEY.
	APIKeyEnv string `json:"api_key_env"`
}

// APIKey resolves the Airtable credential from the environment.
func (a Airtable) APIKey() string {
	env := a.APIKeyEnv
	if env == "" {
		env = "AIRTABLE_API_KEY"
	}
	return os.Getenv(env)
}

// Storage selects the destination backend.
type Storage struct {
	// Kind: "postgres" | "sqlite" | "mssql".
	Kind string `json:"kind"`
	// DSN may reference environment variables as ${VAR}.
	DSN string `json:"dsn"`
}

// ExpandedDSN applies environment expansion. A Render-style postgres:// URL
// is accepted as-is; pgx understands both scheme spellings.
func (s Storage) ExpandedDSN() string {
	return os.ExpandEnv(s.DSN)
}

// Enrich toggles optional sync steps.
type Enrich struct {
	// Websites enables startup-website title/description extraction.
	Websites bool `json:"websites"`
}

// Severity levels for validation issues.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity string
	Path     string
	Message  string
}

// Load reads and decodes a config file.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks a Config and returns all findings, errors and warnings
// alike. Callers decide whether warnings are fatal.
func Validate(cfg Config) []Issue {
	var issues []Issue

	add := func(severity, path, msg string) {
		issues = append(issues, Issue{Severity: severity, Path: path, Message: msg})
	}

	if strings.TrimSpace(cfg.Airtable.BaseID) == "" {
		add(SeverityError, "airtable.base_id", "base id is required")
	}
	if len(cfg.Airtable.Tables) == 0 {
		add(SeverityError, "airtable.tables", "at least one cohort table is required")
	}
	for i, t := range cfg.Airtable.Tables {
		if strings.TrimSpace(t) == "" {
			add(SeverityError, fmt.Sprintf("airtable.tables[%d]", i), "table name is empty")
		}
	}

	switch cfg.Storage.Kind {
	case "postgres", "sqlite", "mssql":
	case "":
		add(SeverityError, "storage.kind", "storage kind is required")
	default:
		add(SeverityError, "storage.kind", fmt.Sprintf("unsupported kind %q", cfg.Storage.Kind))
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "dsn is required")
	}

	if cfg.Job == "" {
		add(SeverityWarning, "job", "job name is empty; metrics will be tagged job:appsync")
	}

	return issues
}
