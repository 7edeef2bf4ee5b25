package model

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeName canonicalizes an entity name for identity matching:
// whitespace runs collapse to single spaces and case is Unicode-folded.
func NormalizeName(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// NormalizeDomain reduces a website URL to its bare domain: scheme, "www."
// prefix, path, query, and fragment are stripped. Returns "" for empty input.
func NormalizeDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, ".")
}
