// Package source resolves free-text queries into ranked, unverified entity
// candidates via an external search/inference service. Candidates are never
// persisted here; verification decides what becomes an entity.
package source

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
)

// Source finds candidate entities for a query.
type Source interface {
	Search(ctx context.Context, query string, kind model.Kind) ([]model.Candidate, error)
}

// ValidateQuery rejects malformed search input before any external call.
func ValidateQuery(query string, kind model.Kind) error {
	if strings.TrimSpace(query) == "" {
		return eris.New("source: query is required")
	}
	if !kind.Valid() {
		return eris.Errorf("source: invalid entity kind %q", kind)
	}
	return nil
}
