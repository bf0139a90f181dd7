// Package storage defines the persistence seams of the engine.
//
// The EventStore holds the patch log, which is the sole authority for
// rebuilding graph state. The SnapshotStore holds serialized exports whose
// entity sections exist for inspection and interop; loading trusts only the
// patch log. Implementations live in subpackages (memory, sqlite).
package storage

import (
	"context"
	"encoding/json"

	"github.com/louisbranch/weave/internal/engine/ledger"
)

// Export is the serialized form of a graph: its entities split by kind plus
// the full patch log.
type Export struct {
	GraphID   string            `json:"graph_id"`
	Entities  []json.RawMessage `json:"entities"`
	Edges     []json.RawMessage `json:"edges"`
	Subgraphs []json.RawMessage `json:"subgraphs"`
	Patches   []ledger.Patch    `json:"patches"`
}

// EventStore persists the append-only patch log. Appends are at-least-once:
// re-appending a (graph, seq) pair that already exists is a silent no-op so
// a timed-out step can safely retry.
type EventStore interface {
	AppendPatch(ctx context.Context, p ledger.Patch) error
	ListPatches(ctx context.Context, graphID string, afterSeq uint64, limit int) ([]ledger.Patch, error)
	LatestSeq(ctx context.Context, graphID string) (uint64, error)
}

// SnapshotStore persists one export per graph.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, export Export) error
	GetSnapshot(ctx context.Context, graphID string) (Export, error)
}

// Store combines both seams with lifecycle management.
type Store interface {
	EventStore
	SnapshotStore
	Close() error
}
