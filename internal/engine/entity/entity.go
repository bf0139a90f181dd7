// Package entity defines the identity substrate shared by every graph
// element: a uid, a kind, tag and capability sets, and a free-form attribute
// mapping. Entities round-trip through JSON without loss so that graphs can
// be serialized element by element and rebuilt from the patch ledger.
package entity

import (
	"encoding/json"
	"sort"
	"time"

	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// UID uniquely identifies an entity within a graph.
type UID string

// Entity kinds for the graph substrate.
const (
	// KindNode is a plain traversable node.
	KindNode = "node"
	// KindEdge is a directed connection between two nodes.
	KindEdge = "edge"
	// KindSubgraph is a node that also bounds a member set.
	KindSubgraph = "subgraph"
)

// Meta carries bookkeeping timestamps.
type Meta struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entity is the base identity type for nodes, edges, and subgraphs.
//
// Tags and Caps are kept sorted and unique so that serialization and
// feature matching are deterministic. Attrs hold JSON-compatible values
// only; cross-entity references are stored as UID strings, never pointers.
type Entity struct {
	UID   UID            `json:"uid"`
	Kind  string         `json:"kind"`
	Tags  []string       `json:"tags,omitempty"`
	Caps  []string       `json:"caps,omitempty"`
	Attrs map[string]any `json:"attrs,omitempty"`
	Meta  Meta           `json:"meta"`
}

// New creates an entity with the given uid and kind.
func New(uid UID, kind string) *Entity {
	now := time.Now().UTC()
	return &Entity{
		UID:   uid,
		Kind:  kind,
		Attrs: make(map[string]any),
		Meta:  Meta{CreatedAt: now, UpdatedAt: now},
	}
}

// HasTag reports whether the entity carries the tag.
func (e *Entity) HasTag(tag string) bool {
	return contains(e.Tags, tag)
}

// AddTag adds a tag, reporting whether the tag set changed.
func (e *Entity) AddTag(tag string) bool {
	updated, changed := addToSet(e.Tags, tag)
	if changed {
		e.Tags = updated
		e.touch()
	}
	return changed
}

// RemoveTag removes a tag, reporting whether the tag set changed.
func (e *Entity) RemoveTag(tag string) bool {
	updated, changed := removeFromSet(e.Tags, tag)
	if changed {
		e.Tags = updated
		e.touch()
	}
	return changed
}

// HasCap reports whether the entity declares the capability.
func (e *Entity) HasCap(capability string) bool {
	return contains(e.Caps, capability)
}

// AddCap adds a capability, reporting whether the capability set changed.
func (e *Entity) AddCap(capability string) bool {
	updated, changed := addToSet(e.Caps, capability)
	if changed {
		e.Caps = updated
		e.touch()
	}
	return changed
}

// Attr returns the attribute value for key.
func (e *Entity) Attr(key string) (any, bool) {
	if e.Attrs == nil {
		return nil, false
	}
	value, ok := e.Attrs[key]
	return value, ok
}

// SetAttr sets an attribute value. Callers holding an entity inside a graph
// must mutate through the graph instead so the change is recorded as a patch.
func (e *Entity) SetAttr(key string, value any) {
	if e.Attrs == nil {
		e.Attrs = make(map[string]any)
	}
	e.Attrs[key] = value
	e.touch()
}

// UnsetAttr removes an attribute, reporting whether it existed.
func (e *Entity) UnsetAttr(key string) bool {
	if e.Attrs == nil {
		return false
	}
	if _, ok := e.Attrs[key]; !ok {
		return false
	}
	delete(e.Attrs, key)
	e.touch()
	return true
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Tags = append([]string(nil), e.Tags...)
	dup.Caps = append([]string(nil), e.Caps...)
	dup.Attrs = cloneValueMap(e.Attrs)
	return &dup
}

// Encode serializes the entity to JSON.
func (e *Entity) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode deserializes an entity from JSON.
func Decode(data []byte) (*Entity, error) {
	var e Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEntityDecode, "decode entity", err)
	}
	if e.UID == "" {
		return nil, apperrors.New(apperrors.CodeEntityUIDEmpty, "decoded entity has empty uid")
	}
	sort.Strings(e.Tags)
	sort.Strings(e.Caps)
	return &e, nil
}

func (e *Entity) touch() {
	e.Meta.UpdatedAt = time.Now().UTC()
}

func contains(set []string, value string) bool {
	i := sort.SearchStrings(set, value)
	return i < len(set) && set[i] == value
}

func addToSet(set []string, value string) ([]string, bool) {
	i := sort.SearchStrings(set, value)
	if i < len(set) && set[i] == value {
		return set, false
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = value
	return set, true
}

func removeFromSet(set []string, value string) ([]string, bool) {
	i := sort.SearchStrings(set, value)
	if i >= len(set) || set[i] != value {
		return set, false
	}
	return append(set[:i], set[i+1:]...), true
}

func cloneValueMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = cloneValue(value)
	}
	return dst
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneValueMap(v)
	case []any:
		dup := make([]any, len(v))
		for i, elem := range v {
			dup[i] = cloneValue(elem)
		}
		return dup
	case []string:
		return append([]string(nil), v...)
	default:
		return v
	}
}
