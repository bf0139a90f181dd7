// Package frame assembles the per-step namespace an anchor sees. A frame is
// a layered read-through view, never a flattened copy: node-local attributes
// shadow handler contributions, which shadow the domains' published
// defaults. Frames are built fresh for each step and discarded afterwards.
package frame

import (
	"context"

	"github.com/louisbranch/weave/internal/engine/dispatch"
	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/graph"
	"github.com/louisbranch/weave/internal/engine/scope"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// Task is the dispatch task gather chains.
const Task = "get_context"

// layer is one shadowing level of the namespace.
type layer struct {
	name   string
	values map[string]any
}

// Frame is the assembled view for one step. It implements
// dispatch.Namespace.
type Frame struct {
	g      *graph.Graph
	anchor *entity.Entity
	// layers are ordered narrowest first; Lookup scans in order.
	layers []layer
}

// Gather builds the frame for anchor by chaining every get_context handler
// in scope. Each handler contributes a mapping (its Result.Value) that is
// stacked as its own layer; later (narrower) handlers shadow earlier ones.
// Handlers observe the base layering while contributing. Gather is pure: it
// never mutates the graph.
func Gather(ctx context.Context, g *graph.Graph, sc scope.Scope, anchor *entity.Entity) (*Frame, []dispatch.JobReceipt, error) {
	f := base(g, sc, anchor)
	call := dispatch.Call{Graph: g, Caller: anchor, Namespace: f}
	receipts, err := dispatch.Chain(ctx, call, Task, sc.Registries()...)
	if err != nil {
		return nil, receipts, err
	}

	// Contributions stack above the domain defaults but below node-local
	// attributes, narrowest (latest in chain order) first.
	contributed := make([]layer, 0, len(receipts))
	for i := len(receipts) - 1; i >= 0; i-- {
		values, ok := receipts[i].Value.(map[string]any)
		if !ok || len(values) == 0 {
			continue
		}
		contributed = append(contributed, layer{name: receipts[i].Handler, values: values})
	}
	f.layers = append(f.layers[:1:1], append(contributed, f.layers[1:]...)...)
	return f, receipts, nil
}

// base stacks the node-local layer and the domain namespaces narrowest
// first.
func base(g *graph.Graph, sc scope.Scope, anchor *entity.Entity) *Frame {
	f := &Frame{g: g, anchor: anchor}
	f.layers = append(f.layers, layer{name: "node:" + string(anchor.UID), values: anchor.Attrs})
	domains := sc.Domains()
	for i := len(domains) - 1; i >= 0; i-- {
		if len(domains[i].Namespace) == 0 {
			continue
		}
		f.layers = append(f.layers, layer{name: "domain:" + domains[i].Name, values: domains[i].Namespace})
	}
	return f
}

// Anchor returns the node the frame was assembled for.
func (f *Frame) Anchor() *entity.Entity {
	return f.anchor
}

// Lookup reads a key through the layering; the narrowest layer wins.
func (f *Frame) Lookup(key string) (any, bool) {
	for _, l := range f.layers {
		if value, ok := l.values[key]; ok {
			return value, true
		}
	}
	return nil, false
}

// Provenance reports which layer supplies a key, for debugging and audit.
func (f *Frame) Provenance(key string) (string, bool) {
	for _, l := range f.layers {
		if _, ok := l.values[key]; ok {
			return l.name, true
		}
	}
	return "", false
}

// Resource resolves a named resource through the layering: the key's value
// must be an entity uid, which is dereferenced through the graph on every
// call.
func (f *Frame) Resource(key string) (*entity.Entity, error) {
	value, ok := f.Lookup(key)
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound, "resource key is not bound", map[string]string{
			"key": key,
		})
	}
	uid, ok := value.(string)
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeEntityBadAttr, "resource value is not a uid", map[string]string{
			"key": key,
		})
	}
	e, ok := f.g.Get(entity.UID(uid))
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeDanglingReference, "resource uid is absent", map[string]string{
			"key": key,
			"uid": uid,
		})
	}
	return e, nil
}

// Flatten snapshots the visible namespace into a plain map, narrowest layer
// winning. The result is a copy; mutating it does not touch the frame.
func (f *Frame) Flatten() map[string]any {
	out := make(map[string]any)
	for i := len(f.layers) - 1; i >= 0; i-- {
		for key, value := range f.layers[i].values {
			out[key] = value
		}
	}
	return out
}
