// Package resolve matches declared requirements against existing nodes,
// advertised offers, and registered templates, materializing new nodes on
// demand. Requirements live in the owning node's attributes so every state
// transition is captured by the ledger like any other attribute write.
package resolve

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/graph"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// State tracks a requirement through its lifecycle.
type State string

const (
	// StateUnresolved marks a declared but unprocessed requirement.
	StateUnresolved State = "unresolved"
	// StateResolving marks a requirement mid-resolution.
	StateResolving State = "resolving"
	// StateResolved marks a requirement linked to a live node.
	StateResolved State = "resolved"
	// StateFailed marks a requirement nothing could satisfy.
	StateFailed State = "failed"
)

// Bound limits where resolution searches for an existing match.
type Bound string

const (
	// BoundSubgraph searches the owner's nearest ancestor subgraph.
	BoundSubgraph Bound = "subgraph"
	// BoundGraph searches the whole graph.
	BoundGraph Bound = "graph"
)

// attrPrefix namespaces requirement attributes on the owning node.
const attrPrefix = "req."

// Requirement is a declared, possibly-unresolved need for a node matching
// Criteria within Bound.
type Requirement struct {
	ID         string          `json:"id"`
	Criteria   entity.Criteria `json:"criteria"`
	Bound      Bound           `json:"bound"`
	State      State           `json:"state"`
	ResolvedTo entity.UID      `json:"resolved_to,omitempty"`
}

// AttrKey returns the owner attribute key for a requirement id.
func AttrKey(id string) string {
	return attrPrefix + id
}

// Declare writes a requirement onto its owner node. The write goes through
// the graph so it is journaled. A zero-state requirement is stored as
// unresolved; an empty bound defaults to the whole graph.
func Declare(g *graph.Graph, owner entity.UID, req Requirement) error {
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return apperrors.New(apperrors.CodeRequirementIDEmpty, "requirement id is required")
	}
	if req.State == "" {
		req.State = StateUnresolved
	}
	if req.Bound == "" {
		req.Bound = BoundGraph
	}
	value, err := encodeRequirement(req)
	if err != nil {
		return err
	}
	return g.SetAttr(owner, AttrKey(req.ID), value)
}

// RequirementsOf decodes every requirement stored on the entity, sorted by
// id.
func RequirementsOf(e *entity.Entity) ([]Requirement, error) {
	var out []Requirement
	for key, value := range e.Attrs {
		if !strings.HasPrefix(key, attrPrefix) {
			continue
		}
		req, err := decodeRequirement(value)
		if err != nil {
			return nil, apperrors.WrapWithMetadata(apperrors.CodeRequirementDecode, "requirement attribute is malformed", map[string]string{
				"owner": string(e.UID),
				"attr":  key,
			}, err)
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RequirementOf decodes a single requirement by id.
func RequirementOf(e *entity.Entity, id string) (Requirement, bool, error) {
	value, ok := e.Attr(AttrKey(id))
	if !ok {
		return Requirement{}, false, nil
	}
	req, err := decodeRequirement(value)
	if err != nil {
		return Requirement{}, false, apperrors.WrapWithMetadata(apperrors.CodeRequirementDecode, "requirement attribute is malformed", map[string]string{
			"owner": string(e.UID),
			"attr":  AttrKey(id),
		}, err)
	}
	return req, true, nil
}

// PublishOffer advertises a node as able to satisfy requirements matching
// shape. The shape is stored as a reserved attribute and therefore journaled.
func PublishOffer(g *graph.Graph, uid entity.UID, shape entity.Criteria) error {
	value, err := toJSONValue(shape)
	if err != nil {
		return err
	}
	return g.SetAttr(uid, graph.AttrOfferShape, value)
}

// OfferShape reads a node's advertised shape, if any.
func OfferShape(e *entity.Entity) (entity.Criteria, bool) {
	value, ok := e.Attr(graph.AttrOfferShape)
	if !ok {
		return entity.Criteria{}, false
	}
	var shape entity.Criteria
	if err := fromJSONValue(value, &shape); err != nil {
		return entity.Criteria{}, false
	}
	return shape, true
}

// encodeRequirement stores requirements as plain JSON-shaped values so they
// survive the ledger's payload round trip byte-for-byte.
func encodeRequirement(req Requirement) (any, error) {
	return toJSONValue(req)
}

func decodeRequirement(value any) (Requirement, error) {
	var req Requirement
	if err := fromJSONValue(value, &req); err != nil {
		return Requirement{}, err
	}
	if req.ID == "" {
		return Requirement{}, apperrors.New(apperrors.CodeRequirementIDEmpty, "requirement id is required")
	}
	return req, nil
}

func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromJSONValue(value any, target any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
