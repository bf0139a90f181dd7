// Package cursor runs one traversal step over an anchor node as a strict
// six-phase state machine: gather, prereqs, plan, update, render, continue.
// Context is assembled before predicates run, predicates run before any
// mutation, mutation precedes render, and render precedes advancement. The
// ordering is load-bearing; phases never reorder.
package cursor

import (
	"context"

	"github.com/louisbranch/weave/internal/engine/dispatch"
	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/frame"
	"github.com/louisbranch/weave/internal/engine/graph"
	"github.com/louisbranch/weave/internal/engine/journal"
	"github.com/louisbranch/weave/internal/engine/resolve"
	"github.com/louisbranch/weave/internal/engine/scope"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// Dispatch tasks per phase. Gather chains frame.Task.
const (
	TaskPrereqs  = "prereqs"
	TaskPlan     = "plan"
	TaskUpdate   = "update"
	TaskRender   = "render"
	TaskContinue = "continue"
)

// argChosenEdge carries the selected edge uid to update/render/continue
// handlers.
const argChosenEdge = "chosen_edge"

// EdgeChoice is one entry of the available-edge listing. Unavailable edges
// appear only when explicitly marked revealable.
type EdgeChoice struct {
	ID        entity.UID
	Available bool
	Hint      string
}

// StepResult reports the outcome of one Advance call.
type StepResult struct {
	// Anchor is the node the step ran over.
	Anchor entity.UID
	// Next is the destination reached, empty when the cursor stayed put.
	Next entity.UID
	// Halted means the anchor is a sink: there is nowhere to go.
	Halted bool
	// Blocked means edges exist but none is currently traversable.
	Blocked bool
	// AwaitingChoice means several edges are available and the caller must
	// pick one.
	AwaitingChoice bool
	AvailableEdges []EdgeChoice
	Fragments      []journal.Fragment
	Receipts       []dispatch.JobReceipt
	Builds         []resolve.BuildReceipt
	// Namespace is a flattened snapshot of the final frame.
	Namespace map[string]any
}

// Cursor drives traversal steps over one graph.
type Cursor struct {
	Graph     *graph.Graph
	Directory *scope.Directory
	Journal   *journal.Journal
	Resolver  resolve.Resolver
}

// New creates a cursor over g with dir's domains, writing to j.
func New(g *graph.Graph, dir *scope.Directory, j *journal.Journal) *Cursor {
	return &Cursor{Graph: g, Directory: dir, Journal: j}
}

// Advance runs one step over anchor. chosenEdge selects among available out
// edges; pass the zero uid to let the cursor decide. A chosenEdge outside
// the available set fails with CodeInvalidChoice before any mutation; a
// failed anchor predicate fails with CodePredicateFailure, also before any
// mutation. Handler errors in the mutating phases abort the step and leave
// already-committed patches standing.
func (c *Cursor) Advance(ctx context.Context, anchor entity.UID, chosenEdge entity.UID) (StepResult, error) {
	result := StepResult{Anchor: anchor}

	// GATHER: compose the scope and assemble the frame. Pure.
	sc, err := scope.ForAnchor(c.Directory, c.Graph, anchor)
	if err != nil {
		return result, err
	}
	anchorNode, err := c.Graph.Require(anchor)
	if err != nil {
		return result, err
	}
	f, gatherReceipts, err := frame.Gather(ctx, c.Graph, sc, anchorNode)
	if err != nil {
		return result, err
	}
	result.Receipts = append(result.Receipts, gatherReceipts...)
	registries := sc.Registries()

	// PREREQS: anchor predicates, then per-edge availability. Pure.
	prereqReceipts, err := dispatch.Chain(ctx, dispatch.Call{
		Graph: c.Graph, Caller: anchorNode, Namespace: f,
	}, TaskPrereqs, registries...)
	result.Receipts = append(result.Receipts, prereqReceipts...)
	if err != nil {
		return result, err
	}
	if name, failed := firstFalse(prereqReceipts); failed {
		return result, apperrors.WithMetadata(apperrors.CodePredicateFailure, "anchor predicate failed", map[string]string{
			"anchor":    string(anchor),
			"predicate": name,
		})
	}

	outEdges := c.Graph.OutEdges(anchor)
	choices, available, err := c.edgeAvailability(ctx, f, registries, outEdges)
	if err != nil {
		result.AvailableEdges = choices
		return result, err
	}
	result.AvailableEdges = choices

	selected, verdict := selectEdge(available, chosenEdge, len(outEdges))
	switch verdict {
	case verdictInvalid:
		return result, apperrors.WithMetadata(apperrors.CodeInvalidChoice, "chosen edge is not available", map[string]string{
			"anchor": string(anchor),
			"edge":   string(chosenEdge),
		})
	case verdictBlocked:
		result.Blocked = true
		result.Namespace = f.Flatten()
		return result, nil
	case verdictAwaitingChoice:
		result.AwaitingChoice = true
		result.Namespace = f.Flatten()
		return result, nil
	}

	// PLAN: resolve requirements on the anchor, the selected edge, and its
	// destination. Mutating; failures are recorded in receipts, not raised.
	templates := sc.Templates()
	planTargets := []entity.UID{anchor}
	var destination entity.UID
	if selected != "" {
		edge, err := c.Graph.Edge(selected)
		if err != nil {
			return result, err
		}
		dest, err := c.Graph.EdgeDestination(edge)
		if err != nil {
			return result, err
		}
		destination = dest.UID
		planTargets = append(planTargets, selected, destination)
	}
	for _, target := range planTargets {
		builds, err := c.Resolver.ResolveAll(ctx, c.Graph, target, templates)
		result.Builds = append(result.Builds, builds...)
		if err != nil {
			return result, err
		}
	}
	planReceipts, err := dispatch.Chain(ctx, dispatch.Call{
		Graph: c.Graph, Caller: anchorNode, Namespace: f,
		Args: map[string]any{argChosenEdge: string(selected)},
	}, TaskPlan, registries...)
	result.Receipts = append(result.Receipts, planReceipts...)
	if err != nil {
		return result, err
	}

	// UPDATE: ordered effects. Mutating; a handler error aborts the
	// remaining phases.
	updateReceipts, err := dispatch.Chain(ctx, dispatch.Call{
		Graph: c.Graph, Caller: anchorNode, Namespace: f,
		Args: map[string]any{argChosenEdge: string(selected)},
	}, TaskUpdate, registries...)
	result.Receipts = append(result.Receipts, updateReceipts...)
	if err != nil {
		return result, err
	}

	// RENDER: journal fragments referencing the step's entities.
	renderReceipts, err := dispatch.Chain(ctx, dispatch.Call{
		Graph: c.Graph, Caller: anchorNode, Namespace: f,
		Args: map[string]any{argChosenEdge: string(selected)},
	}, TaskRender, registries...)
	result.Receipts = append(result.Receipts, renderReceipts...)
	if err != nil {
		return result, err
	}
	for _, receipt := range renderReceipts {
		body, ok := receipt.Value.(string)
		if !ok || body == "" {
			continue
		}
		fragment := c.Journal.Append(journal.Fragment{
			NodeID: anchor,
			EdgeID: selected,
			Task:   receipt.Handler,
			Body:   body,
		})
		result.Fragments = append(result.Fragments, fragment)
	}

	// CONTINUE: rebuild the frame (update may have shifted scope or state)
	// and confirm the selected edge's postrequisites before advancing.
	sc2, err := scope.ForAnchor(c.Directory, c.Graph, anchor)
	if err != nil {
		return result, err
	}
	f2, continueGather, err := frame.Gather(ctx, c.Graph, sc2, anchorNode)
	if err != nil {
		return result, err
	}
	result.Receipts = append(result.Receipts, continueGather...)
	result.Namespace = f2.Flatten()

	if selected == "" {
		result.Halted = true
		return result, nil
	}
	next, receipts, err := c.confirmExit(ctx, f2, sc2.Registries(), selected, available)
	result.Receipts = append(result.Receipts, receipts...)
	if err != nil {
		return result, err
	}
	if next == "" {
		result.Blocked = true
		return result, nil
	}
	result.Next = next
	return result, nil
}

// edgeAvailability evaluates prereq chains with each out-edge as caller, in
// declared order. An edge with no matching handlers is available. Gated
// edges are listed only when marked revealable.
func (c *Cursor) edgeAvailability(ctx context.Context, f *frame.Frame, registries []*dispatch.Registry, outEdges []*entity.Entity) ([]EdgeChoice, []entity.UID, error) {
	var choices []EdgeChoice
	var available []entity.UID
	for _, edge := range outEdges {
		receipts, err := dispatch.Chain(ctx, dispatch.Call{
			Graph: c.Graph, Caller: edge, Namespace: f,
		}, TaskPrereqs, registries...)
		if err != nil {
			return choices, available, err
		}
		_, failed := firstFalse(receipts)
		choice := EdgeChoice{ID: edge.UID, Available: !failed, Hint: edgeHint(edge)}
		if choice.Available {
			choices = append(choices, choice)
			available = append(available, edge.UID)
			continue
		}
		if revealable(edge) {
			choices = append(choices, choice)
		}
	}
	return choices, available, nil
}

type verdict int

const (
	verdictProceed verdict = iota
	verdictInvalid
	verdictBlocked
	verdictAwaitingChoice
)

// selectEdge applies the choice rules: an explicit choice must be available;
// with no choice, a single available edge auto-selects, several suspend for
// an external choice, none blocks (or halts at a sink, signalled by an empty
// selection with verdictProceed).
func selectEdge(available []entity.UID, chosen entity.UID, outDegree int) (entity.UID, verdict) {
	if chosen != "" {
		for _, uid := range available {
			if uid == chosen {
				return chosen, verdictProceed
			}
		}
		return "", verdictInvalid
	}
	switch {
	case len(available) == 1:
		return available[0], verdictProceed
	case len(available) > 1:
		return "", verdictAwaitingChoice
	case outDegree > 0:
		return "", verdictBlocked
	}
	return "", verdictProceed
}

// confirmExit evaluates continue-predicates with the selected edge as
// caller, falling back to the remaining available edges in declared order.
// An edge whose postrequisite is false is never taken.
func (c *Cursor) confirmExit(ctx context.Context, f *frame.Frame, registries []*dispatch.Registry, selected entity.UID, available []entity.UID) (entity.UID, []dispatch.JobReceipt, error) {
	ordered := make([]entity.UID, 0, len(available))
	ordered = append(ordered, selected)
	for _, uid := range available {
		if uid != selected {
			ordered = append(ordered, uid)
		}
	}

	var all []dispatch.JobReceipt
	for _, uid := range ordered {
		edge, err := c.Graph.Edge(uid)
		if err != nil {
			return "", all, err
		}
		receipts, err := dispatch.Chain(ctx, dispatch.Call{
			Graph: c.Graph, Caller: edge, Namespace: f,
			Args: map[string]any{argChosenEdge: string(selected)},
		}, TaskContinue, registries...)
		all = append(all, receipts...)
		if err != nil {
			return "", all, err
		}
		if _, failed := firstFalse(receipts); failed {
			continue
		}
		dest, err := c.Graph.EdgeDestination(edge)
		if err != nil {
			return "", all, err
		}
		return dest.UID, all, nil
	}
	return "", all, nil
}

// firstFalse returns the handler name of the first receipt carrying a false
// boolean value. Non-boolean values are informational and never gate.
func firstFalse(receipts []dispatch.JobReceipt) (string, bool) {
	for _, r := range receipts {
		if v, ok := r.Value.(bool); ok && !v {
			return r.Handler, true
		}
	}
	return "", false
}

func edgeHint(edge *entity.Entity) string {
	if v, ok := edge.Attr(graph.AttrEdgeHint); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func revealable(edge *entity.Entity) bool {
	v, ok := edge.Attr(graph.AttrEdgeReveal)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
