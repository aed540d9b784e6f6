package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Reconcile maps a raw source field label to a canonical column name.
//
// Resolution order:
//  1. Exact lookup in FieldNameMap. Exact-match-first avoids accidental
//     collisions between different questions that clean to the same
//     identifier.
//  2. Cleaning fallback: trim, fold diacritics, replace every character
//     outside [A-Za-z0-9] with '_', truncate to MaxIdentifierLen.
//
// Reconcile never fails; an un-mapped label degrades to a safe identifier so
// a new survey question cannot break a sync. Two distinct labels may
// reconcile to the same name; the merge engine folds those columns.
func Reconcile(sourceLabel string) string {
	if canonical, ok := FieldNameMap[sourceLabel]; ok {
		return canonical
	}
	return CleanLabel(sourceLabel)
}

// CleanLabel applies the cleaning transform without consulting FieldNameMap.
//
// The output contains only ASCII alphanumerics and underscores and is at
// most MaxIdentifierLen bytes, which keeps it safe as an unquoted SQL
// identifier on every supported backend.
func CleanLabel(label string) string {
	s := strings.TrimSpace(label)
	if s == "" {
		return s
	}

	// Fold diacritics first so "Café" cleans to "Caf_" -> "Cafe" rather than
	// losing the letter entirely: NFD decompose, drop combining marks.
	s = stripDiacritics(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	out := b.String()
	if len(out) > MaxIdentifierLen {
		out = out[:MaxIdentifierLen]
	}
	return out
}

// stripDiacritics removes combining marks after NFD decomposition.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
