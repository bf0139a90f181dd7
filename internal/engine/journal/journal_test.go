package journal

import "testing"

func TestAppendAssignsSequence(t *testing.T) {
	j := New()
	first := j.Append(Fragment{NodeID: "scene", Body: "a cold wind"})
	second := j.Append(Fragment{NodeID: "scene", EdgeID: "scene-cellar", Body: "the stairs creak"})
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("seqs = %d, %d, want 1, 2", first.Seq, second.Seq)
	}
	if first.At.IsZero() {
		t.Fatal("expected an assigned timestamp")
	}
}

func TestFragmentsReturnsCopy(t *testing.T) {
	j := New()
	j.Append(Fragment{NodeID: "scene", Body: "original"})
	got := j.Fragments()
	got[0].Body = "edited"
	if j.Fragments()[0].Body != "original" {
		t.Fatal("journal must not share its backing slice")
	}
}

func TestSince(t *testing.T) {
	j := New()
	for _, body := range []string{"one", "two", "three"} {
		j.Append(Fragment{NodeID: "scene", Body: body})
	}
	got := j.Since(1)
	if len(got) != 2 || got[0].Body != "two" {
		t.Fatalf("since(1) = %v, want [two three]", got)
	}
	if got := j.Since(9); got != nil {
		t.Fatalf("since(9) = %v, want nil", got)
	}
}
