// Package memory implements the storage seams in process memory, for tests
// and embedded use.
package memory

import (
	"context"
	"sync"

	"github.com/louisbranch/weave/internal/engine/ledger"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
	"github.com/louisbranch/weave/internal/storage"
)

// Store keeps patch logs and snapshots keyed by graph id.
type Store struct {
	mu        sync.RWMutex
	patches   map[string][]ledger.Patch
	snapshots map[string]storage.Export
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		patches:   make(map[string][]ledger.Patch),
		snapshots: make(map[string]storage.Export),
	}
}

// AppendPatch records a patch; an already-present sequence is ignored.
func (s *Store) AppendPatch(ctx context.Context, p ledger.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.patches[p.GraphID]
	for _, existing := range log {
		if existing.Seq == p.Seq {
			return nil
		}
	}
	s.patches[p.GraphID] = append(log, p)
	return nil
}

// ListPatches returns up to limit patches after afterSeq, in sequence order.
func (s *Store) ListPatches(ctx context.Context, graphID string, afterSeq uint64, limit int) ([]ledger.Patch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Patch
	for _, p := range s.patches[graphID] {
		if p.Seq <= afterSeq {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LatestSeq returns the highest stored sequence for a graph, zero when the
// log is empty.
func (s *Store) LatestSeq(ctx context.Context, graphID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest uint64
	for _, p := range s.patches[graphID] {
		if p.Seq > latest {
			latest = p.Seq
		}
	}
	return latest, nil
}

// PutSnapshot stores an export, replacing any previous one for the graph.
func (s *Store) PutSnapshot(ctx context.Context, export storage.Export) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[export.GraphID] = export
	return nil
}

// GetSnapshot returns the stored export for a graph.
func (s *Store) GetSnapshot(ctx context.Context, graphID string) (storage.Export, error) {
	if err := ctx.Err(); err != nil {
		return storage.Export{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	export, ok := s.snapshots[graphID]
	if !ok {
		return storage.Export{}, apperrors.WithMetadata(apperrors.CodeNotFound, "snapshot not found", map[string]string{
			"graph": graphID,
		})
	}
	return export, nil
}

// Close satisfies storage.Store; the memory store has nothing to release.
func (s *Store) Close() error {
	return nil
}
