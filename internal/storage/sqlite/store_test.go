package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/weave/internal/engine/ledger"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
	"github.com/louisbranch/weave/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "weave.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return s
}

func patch(seq uint64) ledger.Patch {
	return ledger.Patch{
		GraphID:     "g",
		Seq:         seq,
		Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
		Kind:        ledger.KindNodeAdded,
		Subject:     "n",
		PayloadJSON: []byte(`{"entity":{"uid":"n","kind":"node"}}`),
		Hash:        "h",
		PrevHash:    "",
		ChainHash:   "c",
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestAppendAndListRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for seq := uint64(1); seq <= 3; seq++ {
		if err := s.AppendPatch(ctx, patch(seq)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	got, err := s.ListPatches(ctx, "g", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("patches = %d, want 3", len(got))
	}
	want := patch(1)
	if got[0].Kind != want.Kind || got[0].Subject != want.Subject || string(got[0].PayloadJSON) != string(want.PayloadJSON) {
		t.Fatalf("patch = %+v, want %+v", got[0], want)
	}
	if !got[0].Timestamp.Equal(want.Timestamp) {
		t.Fatalf("timestamp = %v, want %v", got[0].Timestamp, want.Timestamp)
	}
}

func TestAppendIsIdempotentPerSeq(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.AppendPatch(ctx, patch(1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	// A retry after a timed-out step replays the same sequence.
	if err := s.AppendPatch(ctx, patch(1)); err != nil {
		t.Fatalf("retry append: %v", err)
	}
	got, err := s.ListPatches(ctx, "g", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("patches = %d, want 1", len(got))
	}
}

func TestListPatchesPagesAndFilters(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for seq := uint64(1); seq <= 5; seq++ {
		if err := s.AppendPatch(ctx, patch(seq)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	other := patch(1)
	other.GraphID = "other"
	if err := s.AppendPatch(ctx, other); err != nil {
		t.Fatalf("append other: %v", err)
	}

	got, err := s.ListPatches(ctx, "g", 2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 3 || got[1].Seq != 4 {
		t.Fatalf("patches = %+v, want seqs 3 and 4", got)
	}

	latest, err := s.LatestSeq(ctx, "g")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != 5 {
		t.Fatalf("latest = %d, want 5", latest)
	}
	if latest, _ := s.LatestSeq(ctx, "empty"); latest != 0 {
		t.Fatalf("latest empty = %d, want 0", latest)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.GetSnapshot(ctx, "g"); !errors.Is(err, apperrors.New(apperrors.CodeNotFound, "")) {
		t.Fatalf("error = %v, want not found", err)
	}

	export := storage.Export{GraphID: "g", Patches: []ledger.Patch{patch(1)}}
	if err := s.PutSnapshot(ctx, export); err != nil {
		t.Fatalf("put: %v", err)
	}
	export.Patches = append(export.Patches, patch(2))
	if err := s.PutSnapshot(ctx, export); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := s.GetSnapshot(ctx, "g")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.GraphID != "g" || len(got.Patches) != 2 {
		t.Fatalf("export = %+v, want two patches", got)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weave.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.AppendPatch(context.Background(), patch(1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.ListPatches(context.Background(), "g", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("patches = %d, want 1", len(got))
	}
}
