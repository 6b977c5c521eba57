package game

import (
	"testing"

	"github.com/gambitshq/gambit/internal/rules"
)

func TestSessionHistoryInvariant(t *testing.T) {
	sess := newSession("g")
	if len(sess.positions) != 1 {
		t.Fatalf("new session has %d positions", len(sess.positions))
	}

	for _, uci := range []string{"e2e4", "e7e5", "g1f3"} {
		next, mv, err := sess.game.ApplyUCI(uci)
		if err != nil {
			t.Fatalf("apply %s: %v", uci, err)
		}
		sess.applyMove(next, mv)
	}
	if len(sess.positions) != 4 || len(sess.moveHistory) != 3 {
		t.Fatalf("positions=%d moves=%d", len(sess.positions), len(sess.moveHistory))
	}
}

func TestRepetitionCount(t *testing.T) {
	sess := newSession("g")
	// shuffle knights back and forth twice; the start shape recurs
	for _, uci := range []string{
		"g1f3", "g8f6", "f3g1", "f6g8",
		"g1f3", "g8f6", "f3g1", "f6g8",
	} {
		next, mv, err := sess.game.ApplyUCI(uci)
		if err != nil {
			t.Fatalf("apply %s: %v", uci, err)
		}
		sess.applyMove(next, mv)
	}
	if n := sess.repetitionCount(); n < 3 {
		t.Fatalf("repetition count = %d", n)
	}
}

func TestResetBoardKeepsSeatsAndChat(t *testing.T) {
	sess := newSession("g")
	sess.white = &Seat{Token: "w", Color: rules.White}
	sess.black = &Seat{Token: "b", Color: rules.Black}
	sess.chat = append(sess.chat, chatEntry("alice", "gl hf"))

	next, mv, err := sess.game.ApplyUCI("e2e4")
	if err != nil {
		t.Fatal(err)
	}
	sess.applyMove(next, mv)

	sess.resetBoard()
	if len(sess.positions) != 1 || len(sess.moveHistory) != 0 {
		t.Fatalf("board not rewound: positions=%d moves=%d", len(sess.positions), len(sess.moveHistory))
	}
	if sess.white == nil || sess.black == nil || len(sess.chat) != 1 {
		t.Fatalf("seats or chat lost on reset")
	}
}

func TestSeatLookup(t *testing.T) {
	sess := newSession("g")
	w := &fakeConn{id: "conn-w"}
	sess.white = &Seat{Token: "tok-w", Color: rules.White, Conn: w}

	if sess.seatByToken("tok-w") != sess.white {
		t.Fatalf("token lookup failed")
	}
	if sess.seatByToken("tok-x") != nil {
		t.Fatalf("unknown token matched")
	}
	if sess.seatByConn("conn-w") != sess.white {
		t.Fatalf("conn lookup failed")
	}
	if sess.seatByConn("conn-x") != nil {
		t.Fatalf("unknown conn matched")
	}
	// detached seat no longer matches by conn
	sess.white.Conn = nil
	if sess.seatByConn("conn-w") != nil {
		t.Fatalf("detached seat matched by conn")
	}
}
