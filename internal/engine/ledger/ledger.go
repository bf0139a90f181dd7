package ledger

import (
	"sync"
	"time"

	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// Appender accepts patches for the log. Graph mutators hold an Appender so
// every topology or attribute change is captured without handlers ever
// hand-authoring patches.
type Appender interface {
	Append(p Patch) (Patch, error)
}

// Ledger is the in-memory append-only patch log for one graph. Entries are
// immutable once appended; sequence numbers start at 1 and never repeat.
type Ledger struct {
	mu      sync.RWMutex
	graphID string
	// base is the sequence number already consumed by a persisted log this
	// ledger continues; in-memory patches start at base+1.
	base      uint64
	baseChain string
	patches   []Patch
}

// New creates an empty ledger for the given graph id.
func New(graphID string) *Ledger {
	return &Ledger{graphID: graphID}
}

// Continue creates a ledger that extends a persisted log: the next append
// gets lastSeq+1 and chains onto lastChainHash.
func Continue(graphID string, lastSeq uint64, lastChainHash string) *Ledger {
	return &Ledger{graphID: graphID, base: lastSeq, baseChain: lastChainHash}
}

// GraphID returns the graph this ledger records.
func (l *Ledger) GraphID() string {
	return l.graphID
}

// Append assigns sequence, timestamp, and integrity hashes, then stores the
// patch. The input's Seq and hash fields must be unset; the ledger is the
// only party that assigns them.
func (l *Ledger) Append(p Patch) (Patch, error) {
	if !p.Kind.IsValid() {
		return Patch{}, apperrors.WithMetadata(apperrors.CodePatchKindUnknown, "unknown patch kind",
			map[string]string{"kind": string(p.Kind)})
	}
	if p.Subject == "" {
		return Patch{}, apperrors.New(apperrors.CodeEntityUIDEmpty, "patch subject is required")
	}
	if p.GraphID != "" && p.GraphID != l.graphID {
		return Patch{}, apperrors.WithMetadata(apperrors.CodeLedgerClosed, "patch belongs to another graph",
			map[string]string{"graph_id": p.GraphID, "ledger": l.graphID})
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p.GraphID = l.graphID
	p.Seq = l.base + uint64(len(l.patches)) + 1
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	p.Timestamp = p.Timestamp.UTC().Truncate(time.Millisecond)

	prevChain := l.baseChain
	if n := len(l.patches); n > 0 {
		prevChain = l.patches[n-1].ChainHash
	}
	p.Hash = PatchHash(p)
	p.PrevHash = prevChain
	p.ChainHash = ChainHash(p, prevChain)

	l.patches = append(l.patches, p)
	return p, nil
}

// LastSeq returns the sequence number of the newest patch, counting any
// persisted log this ledger continues.
func (l *Ledger) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.base + uint64(len(l.patches))
}

// Len returns the number of appended patches.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.patches)
}

// Patches returns a copy of the full log in sequence order.
func (l *Ledger) Patches() []Patch {
	return l.Since(0)
}

// Since returns a copy of all in-memory patches with Seq > afterSeq, in
// order. Patches consumed by a continued persisted log are not held here.
func (l *Ledger) Since(afterSeq uint64) []Patch {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if afterSeq > l.base {
		start = int(afterSeq - l.base)
	}
	if start >= len(l.patches) {
		return nil
	}
	out := make([]Patch, len(l.patches)-start)
	copy(out, l.patches[start:])
	return out
}
