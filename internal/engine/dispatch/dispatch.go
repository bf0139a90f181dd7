// Package dispatch routes named tasks to layered handler chains. Handlers are
// registered against a task with a visibility layer, a priority, and a caller
// criteria; lookups return the matching handlers in a deterministic order so
// that identical inputs always produce identical chains.
package dispatch

import (
	"context"
	"time"

	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/graph"
)

// Layer orders handler visibility from broadest to narrowest. Chains run
// lower layers first so broad defaults execute before narrow overrides.
type Layer int

const (
	// LayerCore is the engine's own layer.
	LayerCore Layer = iota
	// LayerSystem is for rule-system packages.
	LayerSystem
	// LayerApplication is for the embedding application.
	LayerApplication
	// LayerAuthor is for content authors.
	LayerAuthor
	// LayerUser is for per-user customization.
	LayerUser
	// LayerInline is for handlers attached to a single entity, usually
	// compiled from inline scripts.
	LayerInline
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerCore:
		return "core"
	case LayerSystem:
		return "system"
	case LayerApplication:
		return "application"
	case LayerAuthor:
		return "author"
	case LayerUser:
		return "user"
	case LayerInline:
		return "inline"
	}
	return "unknown"
}

// Namespace is the read-through key lookup a handler receives. The concrete
// implementation is the per-step frame; dispatch only needs the seam.
type Namespace interface {
	Lookup(key string) (any, bool)
}

// Call carries the inputs of one chain invocation. The same Call is handed to
// every handler in the chain.
type Call struct {
	Graph     *graph.Graph
	Caller    *entity.Entity
	Namespace Namespace
	Args      map[string]any
}

// Result is a single handler's contribution. Done short-circuits the rest of
// the chain.
type Result struct {
	Value any
	Done  bool
}

// Func is the handler callable.
type Func func(ctx context.Context, call Call) (Result, error)

// Handler binds a callable to a task with its dispatch metadata. Owner, when
// set, restricts the handler to calls whose caller is that exact entity.
// Priority breaks ties within a layer; lower values run earlier.
type Handler struct {
	Name     string
	Task     string
	Layer    Layer
	Priority int
	Owner    entity.UID
	Criteria entity.Criteria
	Fn       Func
}

// Matches reports whether the handler applies to the caller. A zero Criteria
// matches every caller; a nil caller only matches criteria-free, unowned
// handlers.
func (h Handler) Matches(caller *entity.Entity) bool {
	if h.Owner != "" {
		if caller == nil || caller.UID != h.Owner {
			return false
		}
	}
	if h.Criteria.IsZero() {
		return true
	}
	if caller == nil {
		return false
	}
	return h.Criteria.Match(caller)
}

// JobReceipt records one handler invocation inside a chain.
type JobReceipt struct {
	Handler string
	Task    string
	Layer   Layer
	Caller  entity.UID
	Args    map[string]any
	Value   any
	Done    bool
	At      time.Time
}
