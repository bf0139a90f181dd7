// Package ledger defines the append-only patch log that records every graph
// mutation. The log is the sole authority for reconstructing graph state:
// live graphs emit patches through an Appender write-intercept, and replay
// folds them back in sequence order.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/louisbranch/weave/internal/engine/entity"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// Kind identifies the type of a patch.
type Kind string

// Topology patches.
const (
	// KindNodeAdded records a node materialization.
	KindNodeAdded Kind = "node.added"
	// KindEdgeAdded records an edge materialization.
	KindEdgeAdded Kind = "edge.added"
	// KindSubgraphAdded records a subgraph materialization.
	KindSubgraphAdded Kind = "subgraph.added"
	// KindMemberAdded records a subgraph membership addition.
	KindMemberAdded Kind = "subgraph.member_added"
	// KindMemberRemoved records a subgraph membership removal.
	KindMemberRemoved Kind = "subgraph.member_removed"
	// KindSevered records explicit destruction of an entity.
	KindSevered Kind = "entity.severed"
)

// Attribute patches.
const (
	// KindAttrSet records an attribute write with its previous value.
	KindAttrSet Kind = "entity.attr_set"
	// KindAttrUnset records an attribute removal.
	KindAttrUnset Kind = "entity.attr_unset"
	// KindTagAdded records a tag addition.
	KindTagAdded Kind = "entity.tag_added"
	// KindTagRemoved records a tag removal.
	KindTagRemoved Kind = "entity.tag_removed"
)

// IsValid reports whether the kind is one the ledger knows how to replay.
func (k Kind) IsValid() bool {
	switch k {
	case KindNodeAdded, KindEdgeAdded, KindSubgraphAdded,
		KindMemberAdded, KindMemberRemoved, KindSevered,
		KindAttrSet, KindAttrUnset, KindTagAdded, KindTagRemoved:
		return true
	}
	return false
}

// Patch is one immutable entry in the mutation log: a minimal diff against a
// single subject entity, plus integrity hashes assigned on append.
type Patch struct {
	// GraphID is the graph this patch belongs to.
	GraphID string `json:"graph_id"`
	// Seq is the patch sequence number within the graph (starts at 1).
	// Assigned by the ledger on append.
	Seq uint64 `json:"seq"`
	// Timestamp is when the mutation occurred.
	Timestamp time.Time `json:"timestamp"`
	// Kind identifies the mutation type.
	Kind Kind `json:"kind"`
	// Subject is the entity the mutation applies to.
	Subject entity.UID `json:"subject"`
	// PayloadJSON holds the kind-specific diff as JSON.
	PayloadJSON []byte `json:"payload,omitempty"`
	// Hash is the content-addressed identity, assigned on append.
	Hash string `json:"hash,omitempty"`
	// PrevHash is the chain hash of the preceding patch.
	PrevHash string `json:"prev_hash,omitempty"`
	// ChainHash links this patch to the whole preceding log.
	ChainHash string `json:"chain_hash,omitempty"`
}

// SnapshotPayload carries the full entity snapshot for materialization
// patches (node/edge/subgraph added).
type SnapshotPayload struct {
	Entity json.RawMessage `json:"entity"`
}

// MemberPayload carries the member uid for membership patches.
type MemberPayload struct {
	Member entity.UID `json:"member"`
}

// AttrPayload carries an attribute diff. Prev preserves the overwritten
// value so audits can walk state backwards.
type AttrPayload struct {
	Key     string `json:"key"`
	Value   any    `json:"value,omitempty"`
	Prev    any    `json:"prev,omitempty"`
	HadPrev bool   `json:"had_prev,omitempty"`
}

// TagPayload carries the tag for tag patches.
type TagPayload struct {
	Tag string `json:"tag"`
}

// SeveredPayload records what kind of entity was destroyed.
type SeveredPayload struct {
	Kind string `json:"kind"`
}

// EncodePayload serializes a typed payload for embedding in a patch.
func EncodePayload(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEntityDecode, "encode patch payload", err)
	}
	return data, nil
}

// DecodePayload deserializes a patch payload into target.
func DecodePayload(p Patch, target any) error {
	if len(p.PayloadJSON) == 0 {
		return apperrors.WithMetadata(apperrors.CodeReplayCorruption, "patch payload is empty",
			map[string]string{"kind": string(p.Kind), "subject": string(p.Subject)})
	}
	if err := json.Unmarshal(p.PayloadJSON, target); err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeReplayCorruption, "decode patch payload",
			map[string]string{"kind": string(p.Kind), "subject": string(p.Subject)}, err)
	}
	return nil
}
