// Package journal collects the rendered output of traversal. Fragments
// reference their originating node and edge by uid instead of copying
// entity state, so the journal stays valid across replays.
package journal

import (
	"sync"
	"time"

	"github.com/louisbranch/weave/internal/engine/entity"
)

// Fragment is one rendered piece of output.
type Fragment struct {
	Seq    uint64
	NodeID entity.UID
	EdgeID entity.UID
	Task   string
	Body   string
	Meta   map[string]any
	At     time.Time
}

// Journal is an append-only fragment sequence.
type Journal struct {
	mu        sync.Mutex
	fragments []Fragment
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{}
}

// Append records a fragment, assigning its sequence number and timestamp.
func (j *Journal) Append(f Fragment) Fragment {
	j.mu.Lock()
	defer j.mu.Unlock()
	f.Seq = uint64(len(j.fragments)) + 1
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	j.fragments = append(j.fragments, f)
	return f
}

// Len returns the number of fragments.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.fragments)
}

// Fragments returns a copy of the full sequence.
func (j *Journal) Fragments() []Fragment {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Fragment, len(j.fragments))
	copy(out, j.fragments)
	return out
}

// Since returns a copy of the fragments appended after seq.
func (j *Journal) Since(seq uint64) []Fragment {
	j.mu.Lock()
	defer j.mu.Unlock()
	if seq >= uint64(len(j.fragments)) {
		return nil
	}
	out := make([]Fragment, len(j.fragments)-int(seq))
	copy(out, j.fragments[seq:])
	return out
}
