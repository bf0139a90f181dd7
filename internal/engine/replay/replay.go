// Package replay rebuilds live graphs by folding ledger patches in sequence
// order. This is the only sanctioned reconstruction path: session resume and
// audit tooling both go through Rehydrate, so a graph can always be treated
// as a pure function of its ledger.
package replay

import (
	"context"
	"fmt"
	"strconv"

	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/graph"
	"github.com/louisbranch/weave/internal/engine/ledger"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

const pageSize = 200

// PatchLister is the storage seam replay reads from.
type PatchLister interface {
	ListPatches(ctx context.Context, graphID string, afterSeq uint64, limit int) ([]ledger.Patch, error)
}

// Rehydrate folds patches into an empty graph. The input must be the full
// log for the graph, in sequence order.
func Rehydrate(graphID string, patches []ledger.Patch) (*graph.Graph, error) {
	return RehydrateFrom(graph.New(graphID), patches)
}

// RehydrateFrom folds patches into a snapshotted graph. The target must not
// be recording: folding replays already-recorded mutations and must not
// re-emit them.
func RehydrateFrom(g *graph.Graph, patches []ledger.Patch) (*graph.Graph, error) {
	if g == nil {
		return nil, fmt.Errorf("replay target graph is required")
	}
	if g.Recording() {
		return nil, fmt.Errorf("replay target graph must not be recording")
	}
	for _, p := range patches {
		if err := apply(g, p); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// FromStore pages the full patch log out of a store and rehydrates it,
// returning the graph and the last folded sequence number.
func FromStore(ctx context.Context, store PatchLister, graphID string) (*graph.Graph, uint64, error) {
	if store == nil {
		return nil, 0, fmt.Errorf("patch store is not configured")
	}
	g := graph.New(graphID)
	var lastSeq uint64
	for {
		patches, err := store.ListPatches(ctx, graphID, lastSeq, pageSize)
		if err != nil {
			return nil, lastSeq, err
		}
		if len(patches) == 0 {
			return g, lastSeq, nil
		}
		for _, p := range patches {
			lastSeq = p.Seq
			if err := apply(g, p); err != nil {
				return nil, lastSeq, err
			}
		}
	}
}

// VerifyChain recomputes content and chain hashes over a full log and fails
// with CodeChainHashMismatch on the first divergence.
func VerifyChain(patches []ledger.Patch) error {
	prevChain := ""
	for _, p := range patches {
		wantHash := ledger.PatchHash(p)
		if p.Hash != wantHash {
			return apperrors.WithMetadata(apperrors.CodeChainHashMismatch, "patch content hash mismatch",
				map[string]string{"seq": strconv.FormatUint(p.Seq, 10)})
		}
		if p.PrevHash != prevChain {
			return apperrors.WithMetadata(apperrors.CodeChainHashMismatch, "patch prev hash mismatch",
				map[string]string{"seq": strconv.FormatUint(p.Seq, 10)})
		}
		wantChain := ledger.ChainHash(p, prevChain)
		if p.ChainHash != wantChain {
			return apperrors.WithMetadata(apperrors.CodeChainHashMismatch, "patch chain hash mismatch",
				map[string]string{"seq": strconv.FormatUint(p.Seq, 10)})
		}
		prevChain = p.ChainHash
	}
	return nil
}

// apply folds one patch. Any failure is corruption: the ledger is the source
// of truth, so a patch that cannot be applied means the log and the graph
// have diverged. Fatal, never retried.
func apply(g *graph.Graph, p ledger.Patch) error {
	err := applyKind(g, p)
	if err == nil {
		return nil
	}
	return apperrors.WrapWithMetadata(apperrors.CodeReplayCorruption, "ledger replay failed",
		map[string]string{
			"seq":     strconv.FormatUint(p.Seq, 10),
			"kind":    string(p.Kind),
			"subject": string(p.Subject),
		}, err)
}

func applyKind(g *graph.Graph, p ledger.Patch) error {
	switch p.Kind {
	case ledger.KindNodeAdded:
		e, err := decodeSnapshot(p)
		if err != nil {
			return err
		}
		return g.AddNode(e)
	case ledger.KindEdgeAdded:
		e, err := decodeSnapshot(p)
		if err != nil {
			return err
		}
		return g.AddEdge(e)
	case ledger.KindSubgraphAdded:
		e, err := decodeSnapshot(p)
		if err != nil {
			return err
		}
		return g.AddSubgraph(e)
	case ledger.KindMemberAdded:
		var payload ledger.MemberPayload
		if err := ledger.DecodePayload(p, &payload); err != nil {
			return err
		}
		return g.AddMember(p.Subject, payload.Member)
	case ledger.KindMemberRemoved:
		var payload ledger.MemberPayload
		if err := ledger.DecodePayload(p, &payload); err != nil {
			return err
		}
		return g.RemoveMember(p.Subject, payload.Member)
	case ledger.KindAttrSet:
		var payload ledger.AttrPayload
		if err := ledger.DecodePayload(p, &payload); err != nil {
			return err
		}
		return g.SetAttr(p.Subject, payload.Key, payload.Value)
	case ledger.KindAttrUnset:
		var payload ledger.AttrPayload
		if err := ledger.DecodePayload(p, &payload); err != nil {
			return err
		}
		return g.UnsetAttr(p.Subject, payload.Key)
	case ledger.KindTagAdded:
		var payload ledger.TagPayload
		if err := ledger.DecodePayload(p, &payload); err != nil {
			return err
		}
		return g.AddTag(p.Subject, payload.Tag)
	case ledger.KindTagRemoved:
		var payload ledger.TagPayload
		if err := ledger.DecodePayload(p, &payload); err != nil {
			return err
		}
		return g.RemoveTag(p.Subject, payload.Tag)
	case ledger.KindSevered:
		return g.Sever(p.Subject)
	default:
		return apperrors.WithMetadata(apperrors.CodePatchKindUnknown, "unknown patch kind",
			map[string]string{"kind": string(p.Kind)})
	}
}

func decodeSnapshot(p ledger.Patch) (*entity.Entity, error) {
	var payload ledger.SnapshotPayload
	if err := ledger.DecodePayload(p, &payload); err != nil {
		return nil, err
	}
	return entity.Decode(payload.Entity)
}
