package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gambitshq/gambit/internal/engine"
	"github.com/gambitshq/gambit/internal/identity"
	"github.com/gambitshq/gambit/internal/msgcat"
	"github.com/gambitshq/gambit/internal/rules"
	"github.com/gambitshq/gambit/pkg/wire"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []any
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(ctx context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, v)
	return nil
}

func (f *fakeConn) all() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.frames...)
}

func (f *fakeConn) updates() []wire.Update {
	var out []wire.Update
	for _, fr := range f.all() {
		if u, ok := fr.(wire.Update); ok {
			out = append(out, u)
		}
	}
	return out
}

func (f *fakeConn) events() []wire.GameEvent {
	var out []wire.GameEvent
	for _, fr := range f.all() {
		if e, ok := fr.(wire.GameEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeConn) errorFrames() []wire.Error {
	var out []wire.Error
	for _, fr := range f.all() {
		if e, ok := fr.(wire.Error); ok {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeConn) invalids() []wire.Invalid {
	var out []wire.Invalid
	for _, fr := range f.all() {
		if e, ok := fr.(wire.Invalid); ok {
			out = append(out, e)
		}
	}
	return out
}

type scriptedMover struct {
	mu    sync.Mutex
	moves []string
	reset int
}

func (m *scriptedMover) Search(ctx context.Context, fen string) (engine.BestMove, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.moves) == 0 {
		return engine.BestMove{}, context.DeadlineExceeded
	}
	uci := m.moves[0]
	m.moves = m.moves[1:]
	return engine.BestMove{From: uci[:2], To: uci[2:4], UCI: uci}, nil
}

func (m *scriptedMover) NewGame(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset++
	return nil
}

func (m *scriptedMover) Close() error { return nil }

func chatEntry(username, msg string) wire.ChatMessage {
	return wire.ChatMessage{Username: username, Message: msg, Timestamp: time.Now()}
}

type harness struct {
	coord *Coordinator
	ids   interface {
		identity.Resolver
		Register(token, username string, rating int) int64
		Rating(userID int64) (int, bool)
	}
}

func newHarness(t *testing.T, mover Mover) *harness {
	t.Helper()
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	ids := identity.NewMemoryResolver()
	opts := CoordinatorOptions{
		Resolver: ids,
		Messages: cat,
		AIName:   "Stockfish",
		AIRating: 1500,
	}
	if mover != nil {
		opts.Engine = func(ctx context.Context) (Mover, error) { return mover, nil }
	}
	return &harness{coord: NewCoordinator(opts), ids: ids}
}

func startPvP(t *testing.T, h *harness, gameID string) (*fakeConn, *fakeConn) {
	t.Helper()
	ctx := context.Background()
	h.ids.Register("tok-w", "alice", 1500)
	h.ids.Register("tok-b", "bob", 1500)
	w := &fakeConn{id: "conn-w"}
	b := &fakeConn{id: "conn-b"}
	h.coord.HandleStart(ctx, w, wire.StartRequest{User: "tok-w", GameID: wire.GameID(gameID)})
	h.coord.HandleStart(ctx, b, wire.StartRequest{User: "tok-b", GameID: wire.GameID(gameID)})
	return w, b
}

func move(h *harness, conn *fakeConn, token, gameID, from, to string) {
	h.coord.HandleMove(context.Background(), conn, wire.MoveRequest{
		From: from, To: to, GameID: wire.GameID(gameID), User: token,
	})
}

func waitForRating(t *testing.T, h *harness, userID int64, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := h.ids.Rating(userID); ok && got == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, _ := h.ids.Rating(userID)
	t.Fatalf("rating for user %d = %d, want %d", userID, got, want)
}

func TestStartPairsSeats(t *testing.T) {
	h := newHarness(t, nil)
	w, b := startPvP(t, h, "g1")

	wInit, ok := w.all()[0].(wire.Init)
	if !ok || wInit.Color != "white" {
		t.Fatalf("white init = %+v", w.all()[0])
	}
	bInit, ok := b.all()[0].(wire.Init)
	if !ok || bInit.Color != "black" {
		t.Fatalf("black init = %+v", b.all()[0])
	}

	var wNotice, bNotice *wire.StartNotice
	for _, fr := range w.all() {
		if n, ok := fr.(wire.StartNotice); ok {
			wNotice = &n
		}
	}
	for _, fr := range b.all() {
		if n, ok := fr.(wire.StartNotice); ok {
			bNotice = &n
		}
	}
	if wNotice == nil || bNotice == nil {
		t.Fatalf("pairing notice missing")
	}
	if wNotice.Opponent.Username != "bob" || wNotice.User.Username != "alice" {
		t.Fatalf("white notice %+v", wNotice)
	}
	if bNotice.Opponent.Username != "alice" || bNotice.User.Username != "bob" {
		t.Fatalf("black notice %+v", bNotice)
	}
}

func TestStartGameFull(t *testing.T) {
	h := newHarness(t, nil)
	startPvP(t, h, "g1")
	h.ids.Register("tok-c", "carol", 1500)

	c := &fakeConn{id: "conn-c"}
	h.coord.HandleStart(context.Background(), c, wire.StartRequest{User: "tok-c", GameID: "g1"})
	errs := c.errorFrames()
	if len(errs) != 1 || errs[0].Error != "GAME IS FULL" {
		t.Fatalf("third seat got %v", c.all())
	}
}

func TestStartUnknownSession(t *testing.T) {
	h := newHarness(t, nil)
	c := &fakeConn{id: "conn-x"}
	h.coord.HandleStart(context.Background(), c, wire.StartRequest{User: "tok-nobody", GameID: "g1"})
	errs := c.errorFrames()
	if len(errs) != 1 || errs[0].Error != "SESSION NOT RECOGNIZED" {
		t.Fatalf("got %v", c.all())
	}
	if h.coord.Registry().Len() != 0 {
		t.Fatalf("session created for unresolved token")
	}
}

func TestMoveWrongColor(t *testing.T) {
	h := newHarness(t, nil)
	w, b := startPvP(t, h, "g1")

	// black may not open
	move(h, b, "tok-b", "g1", "e7", "e5")
	if len(b.invalids()) != 1 || b.invalids()[0].Error != "INVALID MOVE WRONG COLOR" {
		t.Fatalf("black opening got %v", b.all())
	}

	// white may not push black's pawn
	move(h, w, "tok-w", "g1", "e7", "e5")
	if len(w.invalids()) != 1 {
		t.Fatalf("white moving black piece got %v", w.all())
	}

	// nothing was applied
	sess, _ := h.coord.Registry().Get("g1")
	if len(sess.moveHistory) != 0 {
		t.Fatalf("history mutated by rejected moves")
	}
}

func TestMoveIllegal(t *testing.T) {
	h := newHarness(t, nil)
	w, _ := startPvP(t, h, "g1")
	move(h, w, "tok-w", "g1", "e2", "e5")
	if len(w.invalids()) != 1 || w.invalids()[0].Error != "INVALID MOVE ENGINE FAIL" {
		t.Fatalf("illegal move got %v", w.all())
	}
}

func TestMoveOutsiderRejected(t *testing.T) {
	h := newHarness(t, nil)
	startPvP(t, h, "g1")
	h.ids.Register("tok-c", "carol", 1500)
	c := &fakeConn{id: "conn-c"}
	move(h, c, "tok-c", "g1", "e2", "e4")
	errs := c.errorFrames()
	if len(errs) != 1 || errs[0].Error != "NOT PART OF GAME" {
		t.Fatalf("outsider got %v", c.all())
	}
}

func TestUpdateBroadcast(t *testing.T) {
	h := newHarness(t, nil)
	w, b := startPvP(t, h, "g1")
	move(h, w, "tok-w", "g1", "e2", "e4")

	wu := w.updates()
	bu := b.updates()
	if len(wu) == 0 || len(bu) == 0 {
		t.Fatalf("update not broadcast: white=%d black=%d", len(wu), len(bu))
	}
	last := wu[len(wu)-1]
	if last.PGN != "1. e4" {
		t.Fatalf("pgn = %q", last.PGN)
	}
	if len(last.MoveHistory) != 1 || last.MoveHistory[0].From != "e2" || last.MoveHistory[0].To != "e4" {
		t.Fatalf("move history = %+v", last.MoveHistory)
	}
}

func TestScholarsMateSettlesRatings(t *testing.T) {
	h := newHarness(t, nil)
	w, b := startPvP(t, h, "g1")

	plays := [][3]string{
		{"tok-w", "e2", "e4"}, {"tok-b", "e7", "e5"},
		{"tok-w", "d1", "h5"}, {"tok-b", "b8", "c6"},
		{"tok-w", "f1", "c4"}, {"tok-b", "g8", "f6"},
		{"tok-w", "h5", "f7"},
	}
	for _, p := range plays {
		conn := w
		if p[0] == "tok-b" {
			conn = b
		}
		move(h, conn, p[0], "g1", p[1], p[2])
	}

	wEvents := w.events()
	bEvents := b.events()
	if len(wEvents) != 1 || len(bEvents) != 1 {
		t.Fatalf("events: white=%d black=%d", len(wEvents), len(bEvents))
	}
	if wEvents[0].Event != wire.EventCheckmate || bEvents[0].Event != wire.EventCheckmate {
		t.Fatalf("events: %+v %+v", wEvents[0], bEvents[0])
	}
	if wEvents[0].EventData.Result != wire.ResultWin || wEvents[0].EventData.Elo != 1508 {
		t.Fatalf("winner data %+v", wEvents[0].EventData)
	}
	if bEvents[0].EventData.Result != wire.ResultLoss || bEvents[0].EventData.Elo != 1492 {
		t.Fatalf("loser data %+v", bEvents[0].EventData)
	}

	sess, _ := h.coord.Registry().Get("g1")
	waitForRating(t, h, sess.white.User.UserID, 1508)
	waitForRating(t, h, sess.black.User.UserID, 1492)

	// the finished game rejects further moves without touching ratings
	move(h, b, "tok-b", "g1", "e8", "f7")
	found := false
	for _, e := range b.errorFrames() {
		if e.Error == "GAME ALREADY OVER" {
			found = true
		}
	}
	if !found {
		t.Fatalf("post-game move not rejected: %v", b.all())
	}
	if got, _ := h.ids.Rating(sess.black.User.UserID); got != 1492 {
		t.Fatalf("rating moved after terminal: %d", got)
	}
}

func TestResignIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	w, b := startPvP(t, h, "g1")
	ctx := context.Background()

	h.coord.HandleResign(ctx, b, wire.ResignRequest{GameID: "g1"})
	if len(w.events()) != 1 || w.events()[0].Event != wire.EventResign {
		t.Fatalf("white events %v", w.events())
	}
	if w.events()[0].EventData.Result != wire.ResultWin {
		t.Fatalf("white result %+v", w.events()[0].EventData)
	}
	if b.events()[0].EventData.Result != wire.ResultLoss {
		t.Fatalf("black result %+v", b.events()[0].EventData)
	}

	h.coord.HandleResign(ctx, b, wire.ResignRequest{GameID: "g1"})
	if len(w.events()) != 1 || len(b.events()) != 1 {
		t.Fatalf("second resign produced more events")
	}
}

func TestRatingGapSettlesFromPreGameRatings(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.ids.Register("tok-w", "carol", 1000)
	h.ids.Register("tok-b", "dan", 1400)
	w := &fakeConn{id: "conn-w"}
	b := &fakeConn{id: "conn-b"}
	h.coord.HandleStart(ctx, w, wire.StartRequest{User: "tok-w", GameID: "g1"})
	h.coord.HandleStart(ctx, b, wire.StartRequest{User: "tok-b", GameID: "g1"})

	h.coord.HandleResign(ctx, b, wire.ResignRequest{GameID: "g1"})
	if len(w.events()) != 1 || len(b.events()) != 1 {
		t.Fatalf("events: white=%d black=%d", len(w.events()), len(b.events()))
	}

	// both sides settle against the rating the opponent entered the game
	// with; equal-rating games hide an ordering bug in the rounding, so the
	// gap here is wide enough to expose it
	if got := w.events()[0].EventData.Elo; got != 1029 {
		t.Fatalf("winner elo = %d, want 1029", got)
	}
	if got := b.events()[0].EventData.Elo; got != 1371 {
		t.Fatalf("loser elo = %d, want 1371", got)
	}

	sess, _ := h.coord.Registry().Get("g1")
	waitForRating(t, h, sess.white.User.UserID, 1029)
	waitForRating(t, h, sess.black.User.UserID, 1371)
}

func TestResignBeforeOpponentJoins(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.ids.Register("tok-w", "alice", 1500)
	w := &fakeConn{id: "conn-w"}
	h.coord.HandleStart(ctx, w, wire.StartRequest{User: "tok-w", GameID: "g1"})

	h.coord.HandleResign(ctx, w, wire.ResignRequest{GameID: "g1"})
	errs := w.errorFrames()
	if len(errs) != 1 || errs[0].Error != "NO OPPONENT YET" {
		t.Fatalf("errors = %v", errs)
	}
	sess, _ := h.coord.Registry().Get("g1")
	if sess.terminal {
		t.Fatalf("lonely resign ended the game")
	}
	if len(w.events()) != 0 {
		t.Fatalf("lonely resign emitted events: %v", w.events())
	}

	// the game stays joinable and playable
	h.ids.Register("tok-b", "bob", 1500)
	b := &fakeConn{id: "conn-b"}
	h.coord.HandleStart(ctx, b, wire.StartRequest{User: "tok-b", GameID: "g1"})
	move(h, w, "tok-w", "g1", "e2", "e4")
	if len(sess.moveHistory) != 1 {
		t.Fatalf("history after join = %d", len(sess.moveHistory))
	}
}

func TestResetRewindsBoard(t *testing.T) {
	h := newHarness(t, nil)
	w, b := startPvP(t, h, "g1")
	ctx := context.Background()

	move(h, w, "tok-w", "g1", "e2", "e4")
	h.coord.HandleReset(ctx, b, wire.ResetRequest{GameID: "g1"})

	bu := b.updates()
	last := bu[len(bu)-1]
	if last.PGN != "" || len(last.MoveHistory) != 0 {
		t.Fatalf("reset update = %+v", last)
	}

	// white opens again after the rewind
	move(h, w, "tok-w", "g1", "d2", "d4")
	sess, _ := h.coord.Registry().Get("g1")
	if len(sess.moveHistory) != 1 {
		t.Fatalf("history after reset = %d", len(sess.moveHistory))
	}
}

func TestResetRejectedWhenOver(t *testing.T) {
	h := newHarness(t, nil)
	_, b := startPvP(t, h, "g1")
	ctx := context.Background()
	h.coord.HandleResign(ctx, b, wire.ResignRequest{GameID: "g1"})

	h.coord.HandleReset(ctx, b, wire.ResetRequest{GameID: "g1"})
	found := false
	for _, e := range b.errorFrames() {
		if e.Error == "GAME ALREADY OVER" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reset after terminal accepted: %v", b.all())
	}
}

func TestChat(t *testing.T) {
	h := newHarness(t, nil)
	w, b := startPvP(t, h, "g1")
	ctx := context.Background()

	h.coord.HandleChat(ctx, w, wire.ChatRequest{GameID: "g1", Message: "gl hf"})
	var got *wire.ChatUpdate
	for _, fr := range b.all() {
		if cu, ok := fr.(wire.ChatUpdate); ok {
			got = &cu
		}
	}
	if got == nil || len(got.GameChat) != 1 || got.GameChat[0].Username != "alice" || got.GameChat[0].Message != "gl hf" {
		t.Fatalf("chat update = %+v", got)
	}

	// a connection without a seat is silently ignored
	intruder := &fakeConn{id: "conn-x"}
	h.coord.HandleChat(ctx, intruder, wire.ChatRequest{GameID: "g1", Message: "hi"})
	sess, _ := h.coord.Registry().Get("g1")
	if len(sess.chat) != 1 {
		t.Fatalf("unseated chat accepted")
	}
	if len(intruder.all()) != 0 {
		t.Fatalf("intruder received frames: %v", intruder.all())
	}
}

func TestSearchGameCode(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.ids.Register("tok-w", "alice", 1500)
	w := &fakeConn{id: "conn-w"}
	h.coord.HandleStart(ctx, w, wire.StartRequest{User: "tok-w", GameID: "join-me"})

	probe := &fakeConn{id: "conn-p"}
	h.coord.HandleSearchGameCode(ctx, probe, "join-me")
	h.coord.HandleSearchGameCode(ctx, probe, "no-such-game")

	var results []wire.SearchResult
	for _, fr := range probe.all() {
		if r, ok := fr.(wire.SearchResult); ok {
			results = append(results, r)
		}
	}
	if len(results) != 2 || results[0].Result != "FOUND" || results[1].Result != "NOT FOUND" {
		t.Fatalf("search results %+v", results)
	}
}

func TestReconnectRestoresState(t *testing.T) {
	h := newHarness(t, nil)
	w, b := startPvP(t, h, "g1")
	ctx := context.Background()

	move(h, w, "tok-w", "g1", "e2", "e4")
	move(h, b, "tok-b", "g1", "e7", "e5")
	h.coord.HandleDisconnect(ctx, b)

	b2 := &fakeConn{id: "conn-b2"}
	h.coord.HandleStart(ctx, b2, wire.StartRequest{User: "tok-b", GameID: "g1"})

	frames := b2.all()
	init, ok := frames[0].(wire.Init)
	if !ok || init.Color != "black" {
		t.Fatalf("rejoin init = %+v", frames[0])
	}
	ups := b2.updates()
	if len(ups) != 1 || ups[0].PGN != "1. e4 e5" {
		t.Fatalf("rejoin update = %+v", ups)
	}
	// and the seat moves again through the new connection
	move(h, w, "tok-w", "g1", "g1", "f3")
	move(h, b2, "tok-b", "g1", "b8", "c6")
	sess, _ := h.coord.Registry().Get("g1")
	if len(sess.moveHistory) != 4 {
		t.Fatalf("history after rejoin = %d", len(sess.moveHistory))
	}
}

func TestAIGame(t *testing.T) {
	mover := &scriptedMover{moves: []string{"e7e5", "b8c6"}}
	h := newHarness(t, mover)
	ctx := context.Background()
	h.ids.Register("tok-w", "alice", 1500)
	w := &fakeConn{id: "conn-w"}

	h.coord.HandleStart(ctx, w, wire.StartRequest{User: "tok-w", GameID: "ai-1", AgainstAI: true})
	var notice *wire.StartNotice
	for _, fr := range w.all() {
		if n, ok := fr.(wire.StartNotice); ok {
			notice = &n
		}
	}
	if notice == nil || notice.Opponent.Username != "Stockfish" || notice.Opponent.Elo != 1500 {
		t.Fatalf("ai notice = %+v", notice)
	}

	move(h, w, "tok-w", "ai-1", "e2", "e4")
	ups := w.updates()
	// one update for the player's move and one for the engine reply
	if len(ups) < 3 {
		t.Fatalf("updates after first exchange = %d", len(ups))
	}
	last := ups[len(ups)-1]
	if last.PGN != "1. e4 e5" {
		t.Fatalf("pgn after engine reply = %q", last.PGN)
	}

	move(h, w, "tok-w", "ai-1", "g1", "f3")
	sess, _ := h.coord.Registry().Get("ai-1")
	if len(sess.moveHistory) != 4 {
		t.Fatalf("history = %d", len(sess.moveHistory))
	}
	if sess.game.SideToMove() != rules.White {
		t.Fatalf("engine did not answer")
	}
}

func TestAIGameRandomFallback(t *testing.T) {
	// a mover with no scripted moves fails every search; the session falls
	// back to a random legal reply
	mover := &scriptedMover{}
	h := newHarness(t, mover)
	ctx := context.Background()
	h.ids.Register("tok-w", "alice", 1500)
	w := &fakeConn{id: "conn-w"}

	h.coord.HandleStart(ctx, w, wire.StartRequest{User: "tok-w", GameID: "ai-2", AgainstAI: true})
	move(h, w, "tok-w", "ai-2", "e2", "e4")

	sess, _ := h.coord.Registry().Get("ai-2")
	if len(sess.moveHistory) != 2 {
		t.Fatalf("fallback reply missing: history = %d", len(sess.moveHistory))
	}
	if sess.game.SideToMove() != rules.White {
		t.Fatalf("turn did not return to white")
	}
}

func TestAIGameUnrated(t *testing.T) {
	mover := &scriptedMover{moves: []string{"e7e5"}}
	h := newHarness(t, mover)
	ctx := context.Background()
	id := h.ids.Register("tok-w", "alice", 1500)
	w := &fakeConn{id: "conn-w"}

	h.coord.HandleStart(ctx, w, wire.StartRequest{User: "tok-w", GameID: "ai-3", AgainstAI: true})
	h.coord.HandleResign(ctx, w, wire.ResignRequest{GameID: "ai-3"})

	evs := w.events()
	if len(evs) != 1 || evs[0].Event != wire.EventResign {
		t.Fatalf("events %v", evs)
	}
	if evs[0].EventData.Result != wire.ResultLoss || evs[0].EventData.Elo != 1500 {
		t.Fatalf("ai game rated: %+v", evs[0].EventData)
	}
	if got, _ := h.ids.Rating(id); got != 1500 {
		t.Fatalf("rating persisted for ai game: %d", got)
	}
}

func TestDisconnectNotification(t *testing.T) {
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatal(err)
	}
	ids := identity.NewMemoryResolver()
	coord := NewCoordinator(CoordinatorOptions{
		Resolver:         ids,
		Messages:         cat,
		NotifyDisconnect: true,
	})
	h := &harness{coord: coord, ids: ids}
	w, b := startPvP(t, h, "g1")
	ctx := context.Background()

	h.coord.HandleDisconnect(ctx, b)
	found := false
	for _, e := range w.events() {
		if e.Event == wire.EventOpponentDisconnected {
			found = true
		}
	}
	if !found {
		t.Fatalf("white not notified: %v", w.all())
	}
	if len(b.events()) != 0 {
		t.Fatalf("departed side notified: %v", b.events())
	}
}

func TestIdleReaper(t *testing.T) {
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatal(err)
	}
	ids := identity.NewMemoryResolver()
	coord := NewCoordinator(CoordinatorOptions{
		Resolver: ids,
		Messages: cat,
		IdleTTL:  50 * time.Millisecond,
	})
	h := &harness{coord: coord, ids: ids}
	startPvP(t, h, "g1")

	time.Sleep(80 * time.Millisecond)
	coord.reapIdle()
	if coord.Registry().Len() != 0 {
		t.Fatalf("idle session survived")
	}
}

func TestPing(t *testing.T) {
	h := newHarness(t, nil)
	c := &fakeConn{id: "conn-p"}
	h.coord.HandlePing(context.Background(), c)
	if len(c.all()) != 1 {
		t.Fatalf("frames = %v", c.all())
	}
	if p, ok := c.all()[0].(wire.Pong); !ok || p.Type != wire.TypePong {
		t.Fatalf("pong = %+v", c.all()[0])
	}
}
