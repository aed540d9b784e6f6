// Package schema defines the canonical application schema and the column
// reconciliation rules that map raw Airtable field labels onto it.
//
// The schema package is responsible for:
//   - The closed, versioned canonical field list ("the schema")
//   - The FieldNameMap: exact source-label -> canonical-name associations
//   - The cleaning fallback for unmapped labels (safe SQL identifiers)
//   - Manual-entry identifier generation and recognition
//
// Design constraints:
//   - Reconcile is pure and total: every input label has a defined output.
//   - Growing the canonical field list is a reviewed source change, never an
//     automatic side effect of new source data.
//
// This package is intentionally dependency-light and side-effect free.
package schema

import (
	"strings"

	"github.com/google/uuid"
)

// FieldType is the semantic type of a canonical field. It drives value
// normalization and the SQL column type used at rest.
type FieldType int

const (
	// TypeText is a short free-text scalar (default for unknown columns).
	TypeText FieldType = iota
	// TypeNumeric is a decimal value; at rest it is NULL or a valid number,
	// never raw free text.
	TypeNumeric
	// TypeDate is a timestamp parsed permissively from source text.
	TypeDate
	// TypeDocument is long free text (question answers, pitch descriptions).
	TypeDocument
	// TypeIdentifier is a stable external identifier (unique at rest).
	TypeIdentifier
)

// MaxIdentifierLen caps cleaned column identifiers. Postgres truncates
// identifiers at 63 bytes; 60 leaves headroom for suffixes.
const MaxIdentifierLen = 60

// ManualIDPrefix marks identifiers created through the CRUD API rather than
// fetched from Airtable. Rows whose identifier carries this prefix are
// rescued before every destructive resync.
const ManualIDPrefix = "recManual"

// Provenance column names. These match the columns the original importer
// injected, so existing dashboards keep working against the same table.
const (
	ColID      = "airtable_id"
	ColCreated = "created_at"
	ColCohort  = "Cohort"
	ColCountry = "Country"
	ColYear    = "application_year"
)

// TableApplications is the single wide destination table.
const TableApplications = "applications"

// fieldTypes assigns semantic types to canonical fields. Any canonical or
// cleaned-fallback name not listed here is TypeText.
var fieldTypes = map[string]FieldType{
	ColID:      TypeIdentifier,
	ColCreated: TypeDate,
	ColYear:    TypeNumeric,

	"applicant_name":  TypeText,
	"applicant_email": TypeText,
	"contact_email":   TypeText,
	"phone_number":    TypeText,
	"location":        TypeText,
	"gender":          TypeText,

	"startup_name":        TypeText,
	"startup_hq":          TypeText,
	"theme_primary":       TypeText,
	"product_description": TypeDocument,
	"product_demo":        TypeText,
	"startup_website_url": TypeText,
	"founding_date":       TypeDate,

	"cap_table_link":     TypeText,
	"pitchdeck_link":     TypeText,
	"cofounders_details": TypeDocument,
	"prior_accelerators": TypeDocument,

	"num_founders":         TypeNumeric,
	"num_female_founders":  TypeNumeric,
	"monthly_revenue_usd":  TypeNumeric,
	"monthly_expenses_usd": TypeNumeric,
	"runway_months":        TypeNumeric,
	"total_raised_usd":     TypeNumeric,
	"latest_fundraise_usd": TypeNumeric,

	"application_status":  TypeText,
	"website_title":       TypeText,
	"website_description": TypeDocument,
}

// TypeOf returns the semantic type for a canonical (or cleaned) field name.
//
// Edge cases:
//   - Unknown names return TypeText. The pipeline never fails because a new,
//     un-mapped question appeared in the source.
func TypeOf(field string) FieldType {
	if t, ok := fieldTypes[field]; ok {
		return t
	}
	return TypeText
}

// CanonicalFields returns the canonical field names in no particular order.
// Callers that need determinism must sort.
func CanonicalFields() []string {
	out := make([]string, 0, len(fieldTypes))
	for f := range fieldTypes {
		out = append(out, f)
	}
	return out
}

// DefaultStatus is applied when a CRUD create omits application_status.
const DefaultStatus = "Applied"

// cohortYears maps cohort labels to application years. The label is the
// first whitespace-separated token of the Airtable table name ("AA3
// Application Responses_closed" -> "AA3").
var cohortYears = map[string]int{
	"AA0": 2023,
	"AA1": 2024,
	"AA2": 2024,
	"AA3": 2024,
	"AA4": 2025,
}

// CohortYear returns the application year for a cohort label.
func CohortYear(cohort string) (int, bool) {
	y, ok := cohortYears[strings.TrimSpace(cohort)]
	return y, ok
}

// CohortLabel derives the cohort label from an Airtable table name.
func CohortLabel(tableName string) string {
	fields := strings.Fields(tableName)
	if len(fields) == 0 {
		return tableName
	}
	return fields[0]
}

// NewManualID generates an identifier for a record created through the CRUD
// API. The prefix keeps manual rows recognizable to the rescue step; the
// suffix comes from a v4 UUID so identifiers are never reused.
func NewManualID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return ManualIDPrefix + raw[:14]
}

// IsManualID reports whether id denotes a record created via the CRUD API.
func IsManualID(id string) bool {
	return strings.HasPrefix(id, ManualIDPrefix)
}
