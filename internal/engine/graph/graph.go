// Package graph implements the topology substrate: a uid-keyed entity
// registry holding nodes, edges, and subgraphs. Edges store endpoints as
// uids and re-resolve them through the registry on every access, so entities
// stay independently serializable and every cross-entity traversal can be
// audited. All mutations flow through Graph methods, which emit ledger
// patches through an attached Appender.
package graph

import (
	"iter"

	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/ledger"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// Reserved attribute keys used by the substrate.
const (
	// AttrEdgeSource holds the uid of an edge's source node.
	AttrEdgeSource = "edge.src"
	// AttrEdgeDest holds the uid of an edge's destination node.
	AttrEdgeDest = "edge.dst"
	// AttrEdgeHint holds a short presentation hint for edge choices.
	AttrEdgeHint = "edge.hint"
	// AttrEdgeReveal marks an edge as visible in step results even while
	// its availability predicate fails.
	AttrEdgeReveal = "edge.reveal"
	// AttrMembers holds a subgraph's sorted member uid list.
	AttrMembers = "subgraph.members"
	// AttrOfferShape holds a node's advertised offer criteria.
	AttrOfferShape = "offer.shape"
)

// Graph is the entity registry plus topology accessors. A Graph created with
// a journal emits one patch per mutation; a nil journal (replay, scratch
// construction) mutates silently.
type Graph struct {
	id      string
	reg     *entity.Registry
	journal ledger.Appender
}

// New creates an empty, unjournaled graph. Used by replay and tests.
func New(id string) *Graph {
	return &Graph{id: id, reg: entity.NewRegistry()}
}

// NewRecorded creates an empty graph that records every mutation to journal.
func NewRecorded(id string, journal ledger.Appender) *Graph {
	g := New(id)
	g.journal = journal
	return g
}

// ID returns the graph identity.
func (g *Graph) ID() string {
	return g.id
}

// Recording reports whether mutations are being journaled.
func (g *Graph) Recording() bool {
	return g.journal != nil
}

// Attach binds a journal to a graph built without one, typically after
// replaying a persisted patch log. Attaching to a recording graph is an
// error; rebinding would fork the patch history.
func (g *Graph) Attach(journal ledger.Appender) error {
	if g.journal != nil {
		return apperrors.New(apperrors.CodeGraphRecording, "graph is already recording")
	}
	g.journal = journal
	return nil
}

// NewNode constructs a node entity. The node is not part of any graph until
// added through AddNode.
func NewNode(uid entity.UID) *entity.Entity {
	return entity.New(uid, entity.KindNode)
}

// NewEdge constructs a directed edge entity from src to dst, storing both
// endpoints as uids.
func NewEdge(uid, src, dst entity.UID) *entity.Entity {
	e := entity.New(uid, entity.KindEdge)
	e.SetAttr(AttrEdgeSource, string(src))
	e.SetAttr(AttrEdgeDest, string(dst))
	return e
}

// NewSubgraph constructs a subgraph entity with an empty member set.
func NewSubgraph(uid entity.UID) *entity.Entity {
	e := entity.New(uid, entity.KindSubgraph)
	e.SetAttr(AttrMembers, []any{})
	return e
}

// Get returns the entity for uid.
func (g *Graph) Get(uid entity.UID) (*entity.Entity, bool) {
	return g.reg.Get(uid)
}

// Require returns the entity for uid or a not-found error.
func (g *Graph) Require(uid entity.UID) (*entity.Entity, error) {
	return g.reg.Require(uid)
}

// Len returns the number of entities in the graph.
func (g *Graph) Len() int {
	return g.reg.Len()
}

// Search returns a lazy sequence over entities matching pred in declared
// (insertion) order.
func (g *Graph) Search(pred func(*entity.Entity) bool) iter.Seq[*entity.Entity] {
	return g.reg.Search(pred)
}

// AddNode registers a node and records its materialization.
func (g *Graph) AddNode(e *entity.Entity) error {
	return g.addEntity(e, entity.KindNode, ledger.KindNodeAdded)
}

// AddEdge registers an edge and records its materialization. Endpoints are
// not validated here: a dangling endpoint surfaces as a
// CodeDanglingReference error at access time, per the no-caching contract.
func (g *Graph) AddEdge(e *entity.Entity) error {
	if e != nil {
		if _, ok := e.Attr(AttrEdgeSource); !ok {
			return apperrors.New(apperrors.CodeEntityBadAttr, "edge source uid is required")
		}
		if _, ok := e.Attr(AttrEdgeDest); !ok {
			return apperrors.New(apperrors.CodeEntityBadAttr, "edge destination uid is required")
		}
	}
	return g.addEntity(e, entity.KindEdge, ledger.KindEdgeAdded)
}

// AddSubgraph registers a subgraph and records its materialization.
func (g *Graph) AddSubgraph(e *entity.Entity) error {
	return g.addEntity(e, entity.KindSubgraph, ledger.KindSubgraphAdded)
}

func (g *Graph) addEntity(e *entity.Entity, wantKind string, patchKind ledger.Kind) error {
	if e == nil || e.UID == "" {
		return apperrors.New(apperrors.CodeEntityUIDEmpty, "entity uid is required")
	}
	if e.Kind == "" {
		e.Kind = wantKind
	}
	if e.Kind != wantKind {
		return apperrors.WithMetadata(apperrors.CodeEntityWrongKind, "entity kind mismatch",
			map[string]string{"uid": string(e.UID), "kind": e.Kind, "want": wantKind})
	}
	if err := g.reg.Put(e); err != nil {
		return err
	}
	snapshot, err := e.Encode()
	if err != nil {
		return err
	}
	payload, err := ledger.EncodePayload(ledger.SnapshotPayload{Entity: snapshot})
	if err != nil {
		return err
	}
	return g.emit(ledger.Patch{Kind: patchKind, Subject: e.UID, PayloadJSON: payload})
}

// SetAttr writes an attribute on an entity through the journal intercept.
func (g *Graph) SetAttr(uid entity.UID, key string, value any) error {
	e, err := g.reg.Require(uid)
	if err != nil {
		return err
	}
	prev, hadPrev := e.Attr(key)
	e.SetAttr(key, value)
	payload, err := ledger.EncodePayload(ledger.AttrPayload{Key: key, Value: value, Prev: prev, HadPrev: hadPrev})
	if err != nil {
		return err
	}
	return g.emit(ledger.Patch{Kind: ledger.KindAttrSet, Subject: uid, PayloadJSON: payload})
}

// UnsetAttr removes an attribute; a missing attribute is a silent no-op and
// appends nothing.
func (g *Graph) UnsetAttr(uid entity.UID, key string) error {
	e, err := g.reg.Require(uid)
	if err != nil {
		return err
	}
	prev, _ := e.Attr(key)
	if !e.UnsetAttr(key) {
		return nil
	}
	payload, err := ledger.EncodePayload(ledger.AttrPayload{Key: key, Prev: prev, HadPrev: true})
	if err != nil {
		return err
	}
	return g.emit(ledger.Patch{Kind: ledger.KindAttrUnset, Subject: uid, PayloadJSON: payload})
}

// AddTag tags an entity; duplicates append nothing.
func (g *Graph) AddTag(uid entity.UID, tag string) error {
	e, err := g.reg.Require(uid)
	if err != nil {
		return err
	}
	if !e.AddTag(tag) {
		return nil
	}
	payload, err := ledger.EncodePayload(ledger.TagPayload{Tag: tag})
	if err != nil {
		return err
	}
	return g.emit(ledger.Patch{Kind: ledger.KindTagAdded, Subject: uid, PayloadJSON: payload})
}

// RemoveTag untags an entity; missing tags append nothing.
func (g *Graph) RemoveTag(uid entity.UID, tag string) error {
	e, err := g.reg.Require(uid)
	if err != nil {
		return err
	}
	if !e.RemoveTag(tag) {
		return nil
	}
	payload, err := ledger.EncodePayload(ledger.TagPayload{Tag: tag})
	if err != nil {
		return err
	}
	return g.emit(ledger.Patch{Kind: ledger.KindTagRemoved, Subject: uid, PayloadJSON: payload})
}

// Sever destroys an entity. Memberships referencing it are removed first
// (each removal is its own patch), then the severance itself is recorded.
// Edges pointing at the severed entity are left in place and fail with
// CodeDanglingReference on endpoint access.
func (g *Graph) Sever(uid entity.UID) error {
	e, err := g.reg.Require(uid)
	if err != nil {
		return err
	}
	for _, parent := range g.MemberOf(uid) {
		if err := g.RemoveMember(parent, uid); err != nil {
			return err
		}
	}
	kind := e.Kind
	if !g.reg.Remove(uid) {
		return apperrors.WithMetadata(apperrors.CodeEntityNotFound, "entity vanished during severance",
			map[string]string{"uid": string(uid)})
	}
	payload, err := ledger.EncodePayload(ledger.SeveredPayload{Kind: kind})
	if err != nil {
		return err
	}
	return g.emit(ledger.Patch{Kind: ledger.KindSevered, Subject: uid, PayloadJSON: payload})
}

func (g *Graph) emit(p ledger.Patch) error {
	if g.journal == nil {
		return nil
	}
	_, err := g.journal.Append(p)
	return err
}
