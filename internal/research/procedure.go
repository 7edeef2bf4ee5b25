package research

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
)

// Procedure performs the actual enrichment for one entity. Implementations
// are selected by entity kind and may block on external network calls; the
// runner bounds each call with a deadline and holds no queue lock while it
// executes.
type Procedure interface {
	Enrich(ctx context.Context, e *model.Entity) (*model.ResearchResult, error)
}

// ProcedureFunc adapts a function to the Procedure interface.
type ProcedureFunc func(ctx context.Context, e *model.Entity) (*model.ResearchResult, error)

// Enrich calls f.
func (f ProcedureFunc) Enrich(ctx context.Context, e *model.Entity) (*model.ResearchResult, error) {
	return f(ctx, e)
}

// Registry maps entity kinds to their research procedures.
type Registry struct {
	procs map[model.Kind]Procedure
}

// NewRegistry creates an empty procedure registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[model.Kind]Procedure)}
}

// Register installs the procedure for a kind, replacing any previous one.
func (r *Registry) Register(kind model.Kind, p Procedure) {
	r.procs[kind] = p
}

// Lookup returns the procedure for a kind.
func (r *Registry) Lookup(kind model.Kind) (Procedure, error) {
	p, ok := r.procs[kind]
	if !ok {
		return nil, eris.Errorf("research: no procedure registered for kind %q", kind)
	}
	return p, nil
}
