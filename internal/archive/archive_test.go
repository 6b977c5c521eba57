package archive

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewWithClient(rdb, ttl), mr
}

func TestSaveAndLoad(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	rec := Record{
		GameID:   "game-1",
		White:    "alice",
		Black:    "bob",
		Result:   "white",
		Method:   "checkmate",
		MovesUCI: []string{"e2e4", "e7e5", "f1c4"},
		MovesSAN: []string{"e4", "e5", "Bc4"},
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx, "game-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.White != "alice" || got.Black != "bob" || got.Result != "white" {
		t.Fatalf("loaded %+v", got)
	}
	if got.PGN == "" {
		t.Fatalf("pgn not filled in on save")
	}
	if got.FinishedAt.IsZero() {
		t.Fatalf("finished time not set")
	}
}

func TestLoadMissing(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	if _, err := s.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing record: err = %v", err)
	}
}

func TestRecordExpires(t *testing.T) {
	s, mr := newTestStore(t, time.Minute)
	ctx := context.Background()
	if err := s.Save(ctx, Record{GameID: "game-2", Result: "draw"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := s.Load(ctx, "game-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record: err = %v", err)
	}
}

func TestBuildPGN(t *testing.T) {
	rec := Record{
		GameID:     "game-3",
		White:      "alice",
		Black:      `bob "the knight"`,
		Result:     "black",
		Method:     "resignation",
		MovesSAN:   []string{"e4", "e5", "Nf3"},
		FinishedAt: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
	pgn := BuildPGN(rec)
	for _, want := range []string{
		`[Date "2026.08.28"]`,
		`[White "alice"]`,
		`[Black "bob 'the knight'"]`,
		`[Termination "resignation"]`,
		`[Result "0-1"]`,
		"1. e4 e5 2. Nf3 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}
