package ledger

import "testing"

func TestContinueExtendsPersistedLog(t *testing.T) {
	l := Continue("g", 4, "chain-4")
	payload, err := EncodePayload(TagPayload{Tag: "dark"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p, err := l.Append(Patch{Kind: KindTagAdded, Subject: "n", PayloadJSON: payload})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if p.Seq != 5 {
		t.Fatalf("seq = %d, want 5", p.Seq)
	}
	if p.PrevHash != "chain-4" {
		t.Fatalf("prev hash = %q, want chain-4", p.PrevHash)
	}
	if l.LastSeq() != 5 {
		t.Fatalf("last seq = %d, want 5", l.LastSeq())
	}
	if got := l.Since(4); len(got) != 1 || got[0].Seq != 5 {
		t.Fatalf("since(4) = %+v, want the new patch", got)
	}
	if got := l.Since(5); got != nil {
		t.Fatalf("since(5) = %+v, want nil", got)
	}
}
