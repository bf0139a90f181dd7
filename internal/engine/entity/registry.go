package entity

import (
	"iter"
	"sync"

	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// Registry is a uid-keyed collection of entities with deterministic,
// insertion-ordered iteration. Uid uniqueness is an invariant: Put fails on
// collision rather than overwrite.
type Registry struct {
	mu       sync.RWMutex
	entities map[UID]*Entity
	order    []UID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[UID]*Entity)}
}

// Put adds an entity. It fails with CodeDuplicateUID when the uid is taken.
func (r *Registry) Put(e *Entity) error {
	if e == nil || e.UID == "" {
		return apperrors.New(apperrors.CodeEntityUIDEmpty, "entity uid is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entities[e.UID]; exists {
		return apperrors.WithMetadata(apperrors.CodeDuplicateUID, "entity uid already registered",
			map[string]string{"uid": string(e.UID)})
	}
	r.entities[e.UID] = e
	r.order = append(r.order, e.UID)
	return nil
}

// Get returns the entity for uid.
func (r *Registry) Get(uid UID) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[uid]
	return e, ok
}

// Require returns the entity for uid or a CodeEntityNotFound error.
func (r *Registry) Require(uid UID) (*Entity, error) {
	if e, ok := r.Get(uid); ok {
		return e, nil
	}
	return nil, apperrors.WithMetadata(apperrors.CodeEntityNotFound, "entity not found",
		map[string]string{"uid": string(uid)})
}

// Remove deletes the entity for uid, reporting whether it was present.
func (r *Registry) Remove(uid UID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[uid]; !ok {
		return false
	}
	delete(r.entities, uid)
	for i, existing := range r.order {
		if existing == uid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// All returns a lazy sequence over all entities in insertion order.
func (r *Registry) All() iter.Seq[*Entity] {
	return r.Search(nil)
}

// Search returns a lazy sequence over entities matching pred, in insertion
// order. A nil pred matches everything. The sequence iterates a snapshot of
// the membership taken at call time, so callers may mutate the registry
// while consuming it.
func (r *Registry) Search(pred func(*Entity) bool) iter.Seq[*Entity] {
	r.mu.RLock()
	snapshot := make([]*Entity, 0, len(r.order))
	for _, uid := range r.order {
		snapshot = append(snapshot, r.entities[uid])
	}
	r.mu.RUnlock()

	return func(yield func(*Entity) bool) {
		for _, e := range snapshot {
			if pred != nil && !pred(e) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}
