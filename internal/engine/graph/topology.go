package graph

import (
	"sort"

	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/ledger"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// Node returns the node entity for uid.
func (g *Graph) Node(uid entity.UID) (*entity.Entity, error) {
	return g.requireKind(uid, entity.KindNode)
}

// Edge returns the edge entity for uid.
func (g *Graph) Edge(uid entity.UID) (*entity.Entity, error) {
	return g.requireKind(uid, entity.KindEdge)
}

// Subgraph returns the subgraph entity for uid.
func (g *Graph) Subgraph(uid entity.UID) (*entity.Entity, error) {
	return g.requireKind(uid, entity.KindSubgraph)
}

func (g *Graph) requireKind(uid entity.UID, kind string) (*entity.Entity, error) {
	e, err := g.reg.Require(uid)
	if err != nil {
		return nil, err
	}
	if e.Kind != kind {
		return nil, apperrors.WithMetadata(apperrors.CodeEntityWrongKind, "entity kind mismatch",
			map[string]string{"uid": string(uid), "kind": e.Kind, "want": kind})
	}
	return e, nil
}

// EdgeSource resolves an edge's source node through the registry. The lookup
// happens on every call; endpoints are never cached. A missing endpoint
// fails with CodeDanglingReference.
func (g *Graph) EdgeSource(edge *entity.Entity) (*entity.Entity, error) {
	return g.resolveEndpoint(edge, AttrEdgeSource)
}

// EdgeDestination resolves an edge's destination node through the registry.
func (g *Graph) EdgeDestination(edge *entity.Entity) (*entity.Entity, error) {
	return g.resolveEndpoint(edge, AttrEdgeDest)
}

func (g *Graph) resolveEndpoint(edge *entity.Entity, key string) (*entity.Entity, error) {
	if edge == nil || edge.Kind != entity.KindEdge {
		return nil, apperrors.New(apperrors.CodeEntityWrongKind, "endpoint resolution requires an edge")
	}
	raw, ok := edge.Attr(key)
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeEntityBadAttr, "edge endpoint attribute missing",
			map[string]string{"edge": string(edge.UID), "key": key})
	}
	uid, ok := raw.(string)
	if !ok || uid == "" {
		return nil, apperrors.WithMetadata(apperrors.CodeEntityBadAttr, "edge endpoint is not a uid",
			map[string]string{"edge": string(edge.UID), "key": key})
	}
	target, found := g.reg.Get(entity.UID(uid))
	if !found {
		return nil, apperrors.WithMetadata(apperrors.CodeDanglingReference, "edge endpoint refers to a missing entity",
			map[string]string{"edge": string(edge.UID), "endpoint": uid})
	}
	return target, nil
}

// OutEdges returns the edges departing from node uid, in declared order.
func (g *Graph) OutEdges(uid entity.UID) []*entity.Entity {
	return g.edgesByEndpoint(uid, AttrEdgeSource)
}

// InEdges returns the edges arriving at node uid, in declared order.
func (g *Graph) InEdges(uid entity.UID) []*entity.Entity {
	return g.edgesByEndpoint(uid, AttrEdgeDest)
}

func (g *Graph) edgesByEndpoint(uid entity.UID, key string) []*entity.Entity {
	var out []*entity.Entity
	for e := range g.reg.Search(func(e *entity.Entity) bool { return e.Kind == entity.KindEdge }) {
		if raw, ok := e.Attr(key); ok {
			if s, ok := raw.(string); ok && s == string(uid) {
				out = append(out, e)
			}
		}
	}
	return out
}

// AddMember adds an entity to a subgraph's bounded member set and records
// the change. Adding a subgraph to one of its own descendants fails with
// CodeSubgraphMemberLoop.
func (g *Graph) AddMember(subgraph, member entity.UID) error {
	sg, err := g.Subgraph(subgraph)
	if err != nil {
		return err
	}
	if _, err := g.reg.Require(member); err != nil {
		return err
	}
	if subgraph == member || g.isAncestor(member, subgraph) {
		return apperrors.WithMetadata(apperrors.CodeSubgraphMemberLoop, "membership would form a cycle",
			map[string]string{"subgraph": string(subgraph), "member": string(member)})
	}

	members := memberList(sg)
	for _, existing := range members {
		if existing == member {
			return nil
		}
	}
	members = append(members, member)
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	sg.SetAttr(AttrMembers, encodeMembers(members))

	payload, err := ledger.EncodePayload(ledger.MemberPayload{Member: member})
	if err != nil {
		return err
	}
	return g.emit(ledger.Patch{Kind: ledger.KindMemberAdded, Subject: subgraph, PayloadJSON: payload})
}

// RemoveMember removes an entity from a subgraph's member set and records
// the change; absent members append nothing.
func (g *Graph) RemoveMember(subgraph, member entity.UID) error {
	sg, err := g.Subgraph(subgraph)
	if err != nil {
		return err
	}
	members := memberList(sg)
	idx := -1
	for i, existing := range members {
		if existing == member {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	members = append(members[:idx], members[idx+1:]...)
	sg.SetAttr(AttrMembers, encodeMembers(members))

	payload, err := ledger.EncodePayload(ledger.MemberPayload{Member: member})
	if err != nil {
		return err
	}
	return g.emit(ledger.Patch{Kind: ledger.KindMemberRemoved, Subject: subgraph, PayloadJSON: payload})
}

// Members returns a subgraph's direct members in sorted order.
func (g *Graph) Members(subgraph entity.UID) ([]entity.UID, error) {
	sg, err := g.Subgraph(subgraph)
	if err != nil {
		return nil, err
	}
	return memberList(sg), nil
}

// MemberOf returns the subgraphs that directly contain uid, in declared
// order. Membership is recomputed by scan on every call; the substrate
// keeps no reverse index so that serialization stays trivial.
func (g *Graph) MemberOf(uid entity.UID) []entity.UID {
	var parents []entity.UID
	for e := range g.reg.Search(func(e *entity.Entity) bool { return e.Kind == entity.KindSubgraph }) {
		for _, member := range memberList(e) {
			if member == uid {
				parents = append(parents, e.UID)
				break
			}
		}
	}
	return parents
}

// Ancestors returns the subgraphs enclosing uid, ordered root to leaf. With
// multiple containment paths the first-declared parent's chain comes first;
// duplicates keep their first position.
func (g *Graph) Ancestors(uid entity.UID) []entity.UID {
	var chain []entity.UID
	seen := make(map[entity.UID]bool)
	var climb func(entity.UID)
	climb = func(current entity.UID) {
		for _, parent := range g.MemberOf(current) {
			if seen[parent] {
				continue
			}
			seen[parent] = true
			climb(parent)
			chain = append(chain, parent)
		}
	}
	climb(uid)
	return chain
}

// DescendantMembers returns the transitive member closure of a subgraph in
// deterministic order: direct members first, then nested subgraph members.
func (g *Graph) DescendantMembers(subgraph entity.UID) ([]entity.UID, error) {
	direct, err := g.Members(subgraph)
	if err != nil {
		return nil, err
	}
	var closure []entity.UID
	seen := make(map[entity.UID]bool)
	queue := append([]entity.UID(nil), direct...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if seen[current] {
			continue
		}
		seen[current] = true
		closure = append(closure, current)
		if e, ok := g.reg.Get(current); ok && e.Kind == entity.KindSubgraph {
			queue = append(queue, memberList(e)...)
		}
	}
	return closure, nil
}

func (g *Graph) isAncestor(candidate, of entity.UID) bool {
	for _, ancestor := range g.Ancestors(of) {
		if ancestor == candidate {
			return true
		}
	}
	return false
}

// memberList tolerates both []any (post JSON round trip) and []string
// (in-memory construction) encodings of the member attribute.
func memberList(sg *entity.Entity) []entity.UID {
	raw, ok := sg.Attr(AttrMembers)
	if !ok {
		return nil
	}
	switch values := raw.(type) {
	case []any:
		out := make([]entity.UID, 0, len(values))
		for _, v := range values {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, entity.UID(s))
			}
		}
		return out
	case []string:
		out := make([]entity.UID, 0, len(values))
		for _, s := range values {
			if s != "" {
				out = append(out, entity.UID(s))
			}
		}
		return out
	default:
		return nil
	}
}

func encodeMembers(members []entity.UID) []any {
	out := make([]any, len(members))
	for i, member := range members {
		out[i] = string(member)
	}
	return out
}
