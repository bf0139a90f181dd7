package resolve

import (
	"context"
	"sort"

	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/graph"
)

// BuildFunc constructs a node satisfying a requirement. The returned entity
// is not yet attached; the resolver adds it to the graph so the creation is
// journaled. A build may leave the uid empty to have the resolver assign a
// generated one.
type BuildFunc func(ctx context.Context, g *graph.Graph, req Requirement) (*entity.Entity, error)

// Template is a registered factory capability. Provides advertises the shape
// of nodes it builds; a template is eligible for a requirement when Provides
// covers the requirement's criteria. Priority breaks ties between eligible
// templates; lower values win.
type Template struct {
	Name     string
	Provides entity.Criteria
	Priority int
	Build    BuildFunc
}

// orderTemplates sorts by priority, keeping the given (scope) order for
// ties.
func orderTemplates(templates []Template) []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
