package cursor

import (
	"context"
	"errors"
	"testing"

	"github.com/louisbranch/weave/internal/engine/dispatch"
	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/graph"
	"github.com/louisbranch/weave/internal/engine/journal"
	"github.com/louisbranch/weave/internal/engine/ledger"
	"github.com/louisbranch/weave/internal/engine/resolve"
	"github.com/louisbranch/weave/internal/engine/scope"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// world is a small fixture: subgraph "world" holding nodes A and B joined by
// edge "gate", with one structural domain bound to the subgraph.
type world struct {
	graph  *graph.Graph
	ledger *ledger.Ledger
	dir    *scope.Directory
	domain *scope.Domain
	cursor *Cursor
}

func newWorld(t *testing.T) *world {
	t.Helper()
	l := ledger.New("g")
	g := graph.NewRecorded("g", l)
	if err := g.AddSubgraph(graph.NewSubgraph("world")); err != nil {
		t.Fatalf("add world: %v", err)
	}
	for _, uid := range []entity.UID{"a", "b"} {
		if err := g.AddNode(graph.NewNode(uid)); err != nil {
			t.Fatalf("add %s: %v", uid, err)
		}
		if err := g.AddMember("world", uid); err != nil {
			t.Fatalf("member %s: %v", uid, err)
		}
	}
	if err := g.AddEdge(graph.NewEdge("gate", "a", "b")); err != nil {
		t.Fatalf("add gate: %v", err)
	}

	dom := &scope.Domain{Name: "world", Handlers: dispatch.NewRegistry()}
	dir := scope.NewDirectory()
	if err := dir.Bind("world", dom); err != nil {
		t.Fatalf("bind: %v", err)
	}
	return &world{
		graph:  g,
		ledger: l,
		dir:    dir,
		domain: dom,
		cursor: New(g, dir, journal.New()),
	}
}

func (w *world) addEdge(t *testing.T, uid, src, dst entity.UID) {
	t.Helper()
	if w2, ok := w.graph.Get(dst); !ok || w2 == nil {
		if err := w.graph.AddNode(graph.NewNode(dst)); err != nil {
			t.Fatalf("add %s: %v", dst, err)
		}
		if err := w.graph.AddMember("world", dst); err != nil {
			t.Fatalf("member %s: %v", dst, err)
		}
	}
	if err := w.graph.AddEdge(graph.NewEdge(uid, src, dst)); err != nil {
		t.Fatalf("add edge %s: %v", uid, err)
	}
}

func swordTemplate() resolve.Template {
	return resolve.Template{
		Name:     "forge-sword",
		Provides: entity.Criteria{Tags: []string{"sword"}},
		Build: func(context.Context, *graph.Graph, resolve.Requirement) (*entity.Entity, error) {
			node := graph.NewNode("sword-1")
			node.AddTag("sword")
			return node, nil
		},
	}
}

func TestScenarioSwordTemplate(t *testing.T) {
	w := newWorld(t)
	w.domain.Templates = []resolve.Template{swordTemplate()}
	w.domain.Handlers.MustRegister(dispatch.Handler{
		Name: "narrate", Task: TaskRender,
		Fn: func(context.Context, dispatch.Call) (dispatch.Result, error) {
			return dispatch.Result{Value: "a sword gleams in the keep"}, nil
		},
	})
	req := resolve.Requirement{ID: "weapon", Criteria: entity.Criteria{Tags: []string{"sword"}}, Bound: resolve.BoundGraph}
	if err := resolve.Declare(w.graph, "b", req); err != nil {
		t.Fatalf("declare: %v", err)
	}

	result, err := w.cursor.Advance(context.Background(), "a", "gate")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.Next != "b" {
		t.Fatalf("next = %s, want b", result.Next)
	}
	created := 0
	for _, b := range result.Builds {
		if b.Outcome == resolve.OutcomeCreated && b.NodeID == "sword-1" {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("builds = %+v, want one sword creation", result.Builds)
	}
	if len(result.Fragments) != 1 || result.Fragments[0].NodeID != "a" || result.Fragments[0].EdgeID != "gate" {
		t.Fatalf("fragments = %+v, want one referencing a/gate", result.Fragments)
	}

	// Resolving the same requirement again at b creates nothing.
	before := w.ledger.Len()
	second, err := w.cursor.Advance(context.Background(), "b", "")
	if err != nil {
		t.Fatalf("second advance: %v", err)
	}
	if !second.Halted {
		t.Fatal("b is a sink, expected halt")
	}
	for _, b := range second.Builds {
		if b.Outcome != resolve.OutcomeNoop {
			t.Fatalf("build = %+v, want noop", b)
		}
	}
	if w.ledger.Len() != before {
		t.Fatalf("ledger len = %d, want unchanged %d", w.ledger.Len(), before)
	}
	if _, ok := w.graph.Get("sword-1"); !ok {
		t.Fatal("sword-1 missing")
	}
}

func TestScenarioGatedEdge(t *testing.T) {
	w := newWorld(t)
	if err := w.graph.SetAttr("a", "has_key", false); err != nil {
		t.Fatalf("set attr: %v", err)
	}
	w.domain.Handlers.MustRegister(dispatch.Handler{
		Name: "needs-key", Task: TaskPrereqs, Owner: "gate",
		Fn: func(_ context.Context, call dispatch.Call) (dispatch.Result, error) {
			v, _ := call.Namespace.Lookup("has_key")
			return dispatch.Result{Value: v == true}, nil
		},
	})

	before := w.ledger.Len()
	result, err := w.cursor.Advance(context.Background(), "a", "")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !result.Blocked || result.Next != "" {
		t.Fatalf("result = %+v, want blocked", result)
	}
	if len(result.AvailableEdges) != 0 {
		t.Fatalf("available = %+v, want empty", result.AvailableEdges)
	}
	if w.ledger.Len() != before {
		t.Fatalf("ledger len = %d, want unchanged %d", w.ledger.Len(), before)
	}

	// An effect elsewhere opens the gate.
	if err := w.graph.SetAttr("a", "has_key", true); err != nil {
		t.Fatalf("set attr: %v", err)
	}
	result, err = w.cursor.Advance(context.Background(), "a", "gate")
	if err != nil {
		t.Fatalf("advance after key: %v", err)
	}
	if result.Next != "b" {
		t.Fatalf("next = %s, want b", result.Next)
	}
}

func TestGatedEdgeListedWhenRevealable(t *testing.T) {
	w := newWorld(t)
	if err := w.graph.SetAttr("gate", graph.AttrEdgeReveal, true); err != nil {
		t.Fatalf("set reveal: %v", err)
	}
	if err := w.graph.SetAttr("gate", graph.AttrEdgeHint, "a locked gate"); err != nil {
		t.Fatalf("set hint: %v", err)
	}
	w.domain.Handlers.MustRegister(dispatch.Handler{
		Name: "locked", Task: TaskPrereqs, Owner: "gate",
		Fn: func(context.Context, dispatch.Call) (dispatch.Result, error) {
			return dispatch.Result{Value: false}, nil
		},
	})

	result, err := w.cursor.Advance(context.Background(), "a", "")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(result.AvailableEdges) != 1 {
		t.Fatalf("available = %+v, want the revealed gate", result.AvailableEdges)
	}
	choice := result.AvailableEdges[0]
	if choice.ID != "gate" || choice.Available || choice.Hint != "a locked gate" {
		t.Fatalf("choice = %+v, want unavailable gate with hint", choice)
	}
}

func TestInvalidChoiceLeavesLedgerUnchanged(t *testing.T) {
	w := newWorld(t)
	before := w.ledger.Len()
	_, err := w.cursor.Advance(context.Background(), "a", "no-such-edge")
	if !errors.Is(err, apperrors.New(apperrors.CodeInvalidChoice, "")) {
		t.Fatalf("error = %v, want invalid choice", err)
	}
	if w.ledger.Len() != before {
		t.Fatalf("ledger len = %d, want unchanged %d", w.ledger.Len(), before)
	}
}

func TestAnchorPredicateFailsClosed(t *testing.T) {
	w := newWorld(t)
	w.domain.Handlers.MustRegister(dispatch.Handler{
		Name: "not-ready", Task: TaskPrereqs, Owner: "a",
		Fn: func(context.Context, dispatch.Call) (dispatch.Result, error) {
			return dispatch.Result{Value: false}, nil
		},
	})

	before := w.ledger.Len()
	_, err := w.cursor.Advance(context.Background(), "a", "")
	if !errors.Is(err, apperrors.New(apperrors.CodePredicateFailure, "")) {
		t.Fatalf("error = %v, want predicate failure", err)
	}
	if w.ledger.Len() != before {
		t.Fatalf("ledger len = %d, want unchanged %d", w.ledger.Len(), before)
	}
}

func TestMultipleOpenEdgesAwaitChoice(t *testing.T) {
	w := newWorld(t)
	w.addEdge(t, "postern", "a", "c")

	result, err := w.cursor.Advance(context.Background(), "a", "")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !result.AwaitingChoice || result.Next != "" {
		t.Fatalf("result = %+v, want awaiting choice", result)
	}
	if len(result.AvailableEdges) != 2 || result.AvailableEdges[0].ID != "gate" || result.AvailableEdges[1].ID != "postern" {
		t.Fatalf("available = %+v, want [gate postern] in declared order", result.AvailableEdges)
	}

	// The explicit choice then drives the step.
	result, err = w.cursor.Advance(context.Background(), "a", "postern")
	if err != nil {
		t.Fatalf("advance with choice: %v", err)
	}
	if result.Next != "c" {
		t.Fatalf("next = %s, want c", result.Next)
	}
}

func TestContinueNeverTakesFailingPostrequisite(t *testing.T) {
	w := newWorld(t)
	w.domain.Handlers.MustRegister(dispatch.Handler{
		Name: "portcullis-drops", Task: TaskContinue, Owner: "gate",
		Fn: func(context.Context, dispatch.Call) (dispatch.Result, error) {
			return dispatch.Result{Value: false}, nil
		},
	})

	result, err := w.cursor.Advance(context.Background(), "a", "gate")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.Next != "" || !result.Blocked {
		t.Fatalf("result = %+v, want blocked with no advancement", result)
	}
}

func TestContinueFallsBackToNextPassingEdge(t *testing.T) {
	w := newWorld(t)
	w.addEdge(t, "postern", "a", "c")
	w.domain.Handlers.MustRegister(dispatch.Handler{
		Name: "portcullis-drops", Task: TaskContinue, Owner: "gate",
		Fn: func(context.Context, dispatch.Call) (dispatch.Result, error) {
			return dispatch.Result{Value: false}, nil
		},
	})

	result, err := w.cursor.Advance(context.Background(), "a", "gate")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.Next != "c" {
		t.Fatalf("next = %s, want fallback to c", result.Next)
	}
}

func TestUpdateErrorAbortsRemainingPhases(t *testing.T) {
	w := newWorld(t)
	w.domain.Handlers.MustRegister(dispatch.Handler{
		Name: "open-door", Task: TaskUpdate, Priority: 1,
		Fn: func(_ context.Context, call dispatch.Call) (dispatch.Result, error) {
			return dispatch.Result{}, call.Graph.SetAttr("a", "door", "open")
		},
	})
	w.domain.Handlers.MustRegister(dispatch.Handler{
		Name: "collapse", Task: TaskUpdate, Priority: 2,
		Fn: func(context.Context, dispatch.Call) (dispatch.Result, error) {
			return dispatch.Result{}, errors.New("ceiling gives way")
		},
	})
	w.domain.Handlers.MustRegister(dispatch.Handler{
		Name: "narrate", Task: TaskRender,
		Fn: func(context.Context, dispatch.Call) (dispatch.Result, error) {
			return dispatch.Result{Value: "should never render"}, nil
		},
	})

	result, err := w.cursor.Advance(context.Background(), "a", "gate")
	if !errors.Is(err, apperrors.New(apperrors.CodeHandlerError, "")) {
		t.Fatalf("error = %v, want handler error", err)
	}
	if len(result.Fragments) != 0 {
		t.Fatalf("fragments = %+v, render must not run", result.Fragments)
	}
	// The committed effect stands; the ledger is authoritative.
	node, _ := w.graph.Get("a")
	if v, _ := node.Attr("door"); v != "open" {
		t.Fatalf("door = %v, committed patch must stand", v)
	}
}

func TestDeterministicReceiptOrder(t *testing.T) {
	w := newWorld(t)
	w.domain.Handlers.MustRegister(dispatch.Handler{
		Name: "late", Task: TaskUpdate, Layer: dispatch.LayerUser,
		Fn: func(context.Context, dispatch.Call) (dispatch.Result, error) {
			return dispatch.Result{Value: "late"}, nil
		},
	})
	w.domain.Handlers.MustRegister(dispatch.Handler{
		Name: "early", Task: TaskUpdate, Layer: dispatch.LayerCore,
		Fn: func(context.Context, dispatch.Call) (dispatch.Result, error) {
			return dispatch.Result{Value: "early"}, nil
		},
	})

	for range 3 {
		result, err := w.cursor.Advance(context.Background(), "a", "gate")
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		var updates []string
		for _, r := range result.Receipts {
			if r.Task == TaskUpdate {
				updates = append(updates, r.Handler)
			}
		}
		if len(updates) != 2 || updates[0] != "early" || updates[1] != "late" {
			t.Fatalf("update order = %v, want [early late]", updates)
		}
	}
}
