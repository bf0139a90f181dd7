// Package app wires the engine together behind a session-safe service:
// graph registration, lease-guarded stepping, patch persistence, and
// export/import. One Service instance owns the live graphs of a process.
package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/weave/internal/engine/cursor"
	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/frame"
	"github.com/louisbranch/weave/internal/engine/graph"
	"github.com/louisbranch/weave/internal/engine/journal"
	"github.com/louisbranch/weave/internal/engine/ledger"
	"github.com/louisbranch/weave/internal/engine/replay"
	"github.com/louisbranch/weave/internal/engine/scope"
	"github.com/louisbranch/weave/internal/engine/session"
	"github.com/louisbranch/weave/internal/platform/config"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
	"github.com/louisbranch/weave/internal/storage"
)

// Config holds service tunables sourced from the environment.
type Config struct {
	// StepTimeout bounds a single cursor step, handlers included.
	StepTimeout time.Duration `env:"WEAVE_STEP_TIMEOUT" envDefault:"30s"`
}

// ParseConfig loads Config from the environment.
func ParseConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Service coordinates live graphs over a shared event store. All stepping
// goes through Advance, which holds the graph's session lease for the
// duration of the step and persists newly appended patches before returning.
type Service struct {
	store    storage.EventStore
	dir      *scope.Directory
	sessions *session.Manager
	tracer   trace.Tracer
	timeout  time.Duration

	mu     sync.Mutex
	graphs map[string]*live
}

// live is one registered graph with its recording pipeline.
type live struct {
	graph   *graph.Graph
	ledger  *ledger.Ledger
	journal *journal.Journal
	cursor  *cursor.Cursor
	// flushed is the highest sequence already persisted to the store.
	flushed uint64
}

// NewService creates a service over store using dir's domain bindings.
func NewService(store storage.EventStore, dir *scope.Directory, cfg Config) *Service {
	timeout := cfg.StepTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		store:    store,
		dir:      dir,
		sessions: session.NewManager(),
		tracer:   otel.Tracer("weave/app"),
		timeout:  timeout,
		graphs:   make(map[string]*live),
	}
}

// CreateGraph registers an empty recording graph under graphID.
func (s *Service) CreateGraph(graphID string) (*graph.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[graphID]; ok {
		return nil, apperrors.WithMetadata(apperrors.CodeGraphExists, "graph is already registered",
			map[string]string{"graph": graphID})
	}
	l := ledger.New(graphID)
	g := graph.NewRecorded(graphID, l)
	j := journal.New()
	s.graphs[graphID] = &live{
		graph:   g,
		ledger:  l,
		journal: j,
		cursor:  cursor.New(g, s.dir, j),
	}
	return g, nil
}

// ResumeGraph rebuilds graphID from the store's patch log and registers it
// as a recording graph whose ledger continues the persisted sequence.
func (s *Service) ResumeGraph(ctx context.Context, graphID string) (*graph.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[graphID]; ok {
		return nil, apperrors.WithMetadata(apperrors.CodeGraphExists, "graph is already registered",
			map[string]string{"graph": graphID})
	}

	g, lastSeq, err := replay.FromStore(ctx, s.store, graphID)
	if err != nil {
		return nil, err
	}
	chainHash, err := s.chainHashAt(ctx, graphID, lastSeq)
	if err != nil {
		return nil, err
	}
	l := ledger.Continue(graphID, lastSeq, chainHash)
	if err := g.Attach(l); err != nil {
		return nil, err
	}
	j := journal.New()
	s.graphs[graphID] = &live{
		graph:   g,
		ledger:  l,
		journal: j,
		cursor:  cursor.New(g, s.dir, j),
		flushed: lastSeq,
	}
	return g, nil
}

// chainHashAt fetches the chain hash of the patch at seq, or "" for an
// empty log.
func (s *Service) chainHashAt(ctx context.Context, graphID string, seq uint64) (string, error) {
	if seq == 0 {
		return "", nil
	}
	patches, err := s.store.ListPatches(ctx, graphID, seq-1, 1)
	if err != nil {
		return "", err
	}
	if len(patches) == 0 {
		return "", apperrors.WithMetadata(apperrors.CodeReplayCorruption, "persisted log is missing its tail patch",
			map[string]string{"graph": graphID})
	}
	return patches[0].ChainHash, nil
}

// Graph returns the live graph registered under graphID.
func (s *Service) Graph(graphID string) (*graph.Graph, error) {
	lv, err := s.lookup(graphID)
	if err != nil {
		return nil, err
	}
	return lv.graph, nil
}

// Fragments returns the prose log accumulated for graphID, oldest first.
func (s *Service) Fragments(graphID string) ([]journal.Fragment, error) {
	lv, err := s.lookup(graphID)
	if err != nil {
		return nil, err
	}
	return lv.journal.Fragments(), nil
}

func (s *Service) lookup(graphID string) (*live, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lv, ok := s.graphs[graphID]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound, "graph is not registered",
			map[string]string{"graph": graphID})
	}
	return lv, nil
}

// Advance runs one cursor step over anchor while holding graphID's session
// lease. Newly appended patches are persisted before the lease is released,
// even when the step itself failed: committed mutations stand, and the
// store's idempotent appends make retries safe.
func (s *Service) Advance(ctx context.Context, graphID string, anchor, chosenEdge entity.UID) (cursor.StepResult, error) {
	lv, err := s.lookup(graphID)
	if err != nil {
		return cursor.StepResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "app.Advance",
		trace.WithAttributes(
			attribute.String("graph", graphID),
			attribute.String("anchor", string(anchor)),
			attribute.String("chosen_edge", string(chosenEdge)),
		),
	)
	defer span.End()

	release, err := s.sessions.Acquire(ctx, graphID)
	if err != nil {
		span.RecordError(err)
		return cursor.StepResult{}, err
	}
	defer release()

	stepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, stepErr := lv.cursor.Advance(stepCtx, anchor, chosenEdge)
	annotateStep(span, result)
	if stepErr != nil && stepCtx.Err() != nil {
		stepErr = apperrors.WrapWithMetadata(apperrors.CodeStepTimeout, "step budget exhausted",
			map[string]string{"graph": graphID, "anchor": string(anchor)}, stepErr)
	}

	// Persistence must survive the step deadline; patches already in the
	// ledger are committed history either way.
	if err := s.flush(context.WithoutCancel(ctx), lv); err != nil {
		span.RecordError(err)
		if stepErr == nil {
			return result, err
		}
	}
	if stepErr != nil {
		span.RecordError(stepErr)
	}
	return result, stepErr
}

// annotateStep records one span event per phase that produced work, plus
// the step outcome.
func annotateStep(span trace.Span, result cursor.StepResult) {
	perTask := make(map[string]int)
	for _, r := range result.Receipts {
		perTask[r.Task]++
	}
	for _, task := range []string{frame.Task, cursor.TaskPrereqs, cursor.TaskPlan, cursor.TaskUpdate, cursor.TaskRender, cursor.TaskContinue} {
		if n := perTask[task]; n > 0 {
			span.AddEvent(task, trace.WithAttributes(attribute.Int("handlers", n)))
		}
	}
	span.SetAttributes(
		attribute.String("next", string(result.Next)),
		attribute.Bool("halted", result.Halted),
		attribute.Bool("blocked", result.Blocked),
		attribute.Bool("awaiting_choice", result.AwaitingChoice),
		attribute.Int("builds", len(result.Builds)),
		attribute.Int("fragments", len(result.Fragments)),
	)
}

// flush persists every in-memory patch past the high-water mark. Callers
// hold the graph's session lease.
func (s *Service) flush(ctx context.Context, lv *live) error {
	for _, p := range lv.ledger.Since(lv.flushed) {
		if err := s.store.AppendPatch(ctx, p); err != nil {
			return err
		}
		lv.flushed = p.Seq
	}
	return nil
}

// Serialize flushes pending patches and returns the graph's export: its
// entities split by kind plus the full persisted patch log.
func (s *Service) Serialize(ctx context.Context, graphID string) (storage.Export, error) {
	lv, err := s.lookup(graphID)
	if err != nil {
		return storage.Export{}, err
	}
	release, err := s.sessions.Acquire(ctx, graphID)
	if err != nil {
		return storage.Export{}, err
	}
	defer release()

	if err := s.flush(ctx, lv); err != nil {
		return storage.Export{}, err
	}
	patches, err := allPatches(ctx, s.store, graphID)
	if err != nil {
		return storage.Export{}, err
	}
	export, err := Export(lv.graph)
	if err != nil {
		return storage.Export{}, err
	}
	export.Patches = patches
	return export, nil
}

// Export serializes g's entities by kind. The patch section is left empty;
// Serialize fills it from the persisted log.
func Export(g *graph.Graph) (storage.Export, error) {
	var entities []*entity.Entity
	for e := range g.Search(nil) {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].UID < entities[j].UID })

	export := storage.Export{GraphID: g.ID()}
	for _, e := range entities {
		raw, err := e.Encode()
		if err != nil {
			return storage.Export{}, err
		}
		switch e.Kind {
		case entity.KindEdge:
			export.Edges = append(export.Edges, raw)
		case entity.KindSubgraph:
			export.Subgraphs = append(export.Subgraphs, raw)
		default:
			export.Entities = append(export.Entities, raw)
		}
	}
	return export, nil
}

// Load rebuilds a graph from an export. Only the patch log is trusted; the
// entity sections exist for inspection and interop.
func Load(export storage.Export) (*graph.Graph, error) {
	if err := replay.VerifyChain(export.Patches); err != nil {
		return nil, err
	}
	return replay.Rehydrate(export.GraphID, export.Patches)
}

// allPatches pages through the persisted log for graphID.
func allPatches(ctx context.Context, store storage.EventStore, graphID string) ([]ledger.Patch, error) {
	const pageSize = 256
	var out []ledger.Patch
	var after uint64
	for {
		page, err := store.ListPatches(ctx, graphID, after, pageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return out, nil
		}
		out = append(out, page...)
		after = page[len(page)-1].Seq
	}
}
