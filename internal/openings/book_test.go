package openings

import "testing"

const sampleCatalog = `[Site "A40"]
[White "Queen's pawn"]
[Black ""]

1. d4

[Site "B00"]
[White "King's pawn"]
[Black ""]

1. e4

[Site "C20"]
[White ""]
[Black "King's pawn game"]

1. e4 e5
`

func TestAnnotateByMovetext(t *testing.T) {
	b, err := Parse(sampleCatalog)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if b.Len() != 3 {
		t.Fatalf("entries = %d, want 3", b.Len())
	}
	if got := b.Annotate("1. e4"); got != "King's pawn" {
		t.Fatalf("1. e4 = %q", got)
	}
	// whitespace differences must not matter
	if got := b.Annotate("1.  e4   e5"); got != "King's pawn game" {
		t.Fatalf("1. e4 e5 = %q (black tag fallback)", got)
	}
	if got := b.Annotate("1. c4"); got != "" {
		t.Fatalf("unknown line = %q, want empty", got)
	}
}

func TestLoadMissingFileYieldsEmptyBook(t *testing.T) {
	b, err := Load("testdata/does-not-exist.pgn")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("entries = %d, want 0", b.Len())
	}
	if got := b.Annotate("1. e4"); got != "" {
		t.Fatalf("empty book returned %q", got)
	}
}
