package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/graph"
	"github.com/louisbranch/weave/internal/platform/id"
)

// Outcome classifies how a resolution attempt ended.
type Outcome string

const (
	// OutcomeNoop means the requirement was already resolved to a live node.
	OutcomeNoop Outcome = "noop"
	// OutcomeReused means an existing node satisfied the requirement.
	OutcomeReused Outcome = "reused"
	// OutcomeCreated means a template materialized a new node.
	OutcomeCreated Outcome = "created"
	// OutcomeFailed means nothing could satisfy the requirement.
	OutcomeFailed Outcome = "failed"
)

// BuildReceipt describes one resolution attempt. Failed receipts are
// reported to the caller, never raised as errors.
type BuildReceipt struct {
	Requirement string
	Owner       entity.UID
	Outcome     Outcome
	NodeID      entity.UID
	Template    string
	Reason      string
	At          time.Time
}

// Resolver resolves requirements against a graph. The zero value is usable;
// Now defaults to time.Now.
type Resolver struct {
	Now func() time.Time
}

// Resolve processes one requirement owned by owner. Templates must arrive in
// scope order; priority is applied on top of it. The precedence is: already
// resolved to a live node (no-op), reuse of an existing matching or offering
// node, creation through the first eligible template, and finally a failed
// receipt. Only the no-op path appends zero patches.
func (r *Resolver) Resolve(ctx context.Context, g *graph.Graph, owner entity.UID, req Requirement, templates []Template) (BuildReceipt, error) {
	receipt := BuildReceipt{Requirement: req.ID, Owner: owner, At: r.now()}

	if req.State == StateResolved && req.ResolvedTo != "" {
		if _, ok := g.Get(req.ResolvedTo); ok {
			receipt.Outcome = OutcomeNoop
			receipt.NodeID = req.ResolvedTo
			return receipt, nil
		}
		// Linked node was severed; resolve again.
		req.State = StateUnresolved
		req.ResolvedTo = ""
	}

	if match := r.findExisting(g, owner, req); match != nil {
		req.State = StateResolved
		req.ResolvedTo = match.UID
		if err := Declare(g, owner, req); err != nil {
			return receipt, err
		}
		receipt.Outcome = OutcomeReused
		receipt.NodeID = match.UID
		return receipt, nil
	}

	for _, tpl := range orderTemplates(templates) {
		if tpl.Build == nil || !tpl.Provides.Covers(req.Criteria) {
			continue
		}
		node, err := tpl.Build(ctx, g, req)
		if err != nil {
			receipt.Outcome = OutcomeFailed
			receipt.Template = tpl.Name
			receipt.Reason = fmt.Sprintf("template build failed: %v", err)
			return receipt, r.markFailed(g, owner, req)
		}
		if node.UID == "" {
			node.UID = entity.UID(id.MustNewID())
		}
		if err := g.AddNode(node); err != nil {
			return receipt, err
		}
		req.State = StateResolved
		req.ResolvedTo = node.UID
		if err := Declare(g, owner, req); err != nil {
			return receipt, err
		}
		receipt.Outcome = OutcomeCreated
		receipt.NodeID = node.UID
		receipt.Template = tpl.Name
		return receipt, nil
	}

	receipt.Outcome = OutcomeFailed
	receipt.Reason = "no matching node, offer, or template"
	return receipt, r.markFailed(g, owner, req)
}

// ResolveAll resolves every requirement declared on owner, in id order.
func (r *Resolver) ResolveAll(ctx context.Context, g *graph.Graph, owner entity.UID, templates []Template) ([]BuildReceipt, error) {
	node, err := g.Require(owner)
	if err != nil {
		return nil, err
	}
	reqs, err := RequirementsOf(node)
	if err != nil {
		return nil, err
	}
	var receipts []BuildReceipt
	for _, req := range reqs {
		receipt, err := r.Resolve(ctx, g, owner, req, templates)
		if err != nil {
			return receipts, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// findExisting scans the requirement's bound for a node that either matches
// the criteria directly or advertises an offer shape covering it. The owner
// never satisfies its own requirement.
func (r *Resolver) findExisting(g *graph.Graph, owner entity.UID, req Requirement) *entity.Entity {
	for candidate := range r.candidates(g, owner, req.Bound) {
		if candidate.UID == owner || candidate.Kind != entity.KindNode {
			continue
		}
		if req.Criteria.Match(candidate) {
			return candidate
		}
		if shape, ok := OfferShape(candidate); ok && shape.Covers(req.Criteria) {
			return candidate
		}
	}
	return nil
}

func (r *Resolver) candidates(g *graph.Graph, owner entity.UID, bound Bound) func(func(*entity.Entity) bool) {
	if bound != BoundSubgraph {
		return g.Search(nil)
	}
	ancestors := g.Ancestors(owner)
	if len(ancestors) == 0 {
		return g.Search(nil)
	}
	// Nearest enclosing subgraph bounds the search.
	nearest := ancestors[len(ancestors)-1]
	return func(yield func(*entity.Entity) bool) {
		members, err := g.DescendantMembers(nearest)
		if err != nil {
			return
		}
		for _, uid := range members {
			e, ok := g.Get(uid)
			if !ok {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

func (r *Resolver) markFailed(g *graph.Graph, owner entity.UID, req Requirement) error {
	req.State = StateFailed
	req.ResolvedTo = ""
	return Declare(g, owner, req)
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}
