package dispatch

import (
	"sort"
	"strings"
	"sync"

	"github.com/louisbranch/weave/internal/engine/entity"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// Registry stores handlers in registration order and answers ordered lookups
// by task and caller.
type Registry struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register validates and records a handler. Registration order is preserved
// and is the final tie-break during lookup.
func (r *Registry) Register(h Handler) error {
	h.Name = strings.TrimSpace(h.Name)
	h.Task = strings.TrimSpace(h.Task)
	if h.Name == "" {
		return apperrors.New(apperrors.CodeHandlerNameEmpty, "handler name is required")
	}
	if h.Task == "" {
		return apperrors.New(apperrors.CodeHandlerTaskEmpty, "handler task is required")
	}
	if h.Fn == nil {
		return apperrors.WithMetadata(apperrors.CodeHandlerFnMissing, "handler func is required", map[string]string{
			"handler": h.Name,
		})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
	return nil
}

// MustRegister registers a handler and panics on invalid input. Intended for
// static wiring at construction time.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// HandlersFor returns the handlers registered for task that match caller,
// ordered by (layer, priority, registration order). An unknown task yields an
// empty slice, never an error.
func (r *Registry) HandlersFor(task string, caller *entity.Entity) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Handler
	for _, h := range r.handlers {
		if h.Task != task || !h.Matches(caller) {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Tasks returns the distinct task ids with at least one handler, sorted.
func (r *Registry) Tasks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, h := range r.handlers {
		if _, ok := seen[h.Task]; ok {
			continue
		}
		seen[h.Task] = struct{}{}
		out = append(out, h.Task)
	}
	sort.Strings(out)
	return out
}
