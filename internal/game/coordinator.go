package game

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gambitshq/gambit/internal/archive"
	"github.com/gambitshq/gambit/internal/identity"
	"github.com/gambitshq/gambit/internal/msgcat"
	"github.com/gambitshq/gambit/internal/obslog"
	"github.com/gambitshq/gambit/internal/openings"
	"github.com/gambitshq/gambit/internal/rating"
	"github.com/gambitshq/gambit/internal/rules"
	"github.com/gambitshq/gambit/pkg/wire"
)

const persistTimeout = 5 * time.Second

// CoordinatorOptions wires the coordinator's collaborators. Archive and
// Engine are optional; the rest are required.
type CoordinatorOptions struct {
	Resolver identity.Resolver
	Messages *msgcat.Catalog
	Openings *openings.Book
	Archive  *archive.Store
	Engine   EngineFactory

	// Synthetic opponent shown in AI games.
	AIName   string
	AIRating int

	AIMoveDelay      time.Duration
	ResolveTimeout   time.Duration
	IdleTTL          time.Duration
	NotifyDisconnect bool
}

// Coordinator executes protocol events against the session registry. Each
// handler locks the target session for its full duration, so events within
// one game are serialized.
type Coordinator struct {
	reg  *Registry
	opts CoordinatorOptions

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.AIName == "" {
		opts.AIName = "Stockfish"
	}
	if opts.AIRating == 0 {
		opts.AIRating = 1500
	}
	if opts.ResolveTimeout == 0 {
		opts.ResolveTimeout = 5 * time.Second
	}
	return &Coordinator{
		reg:  NewRegistry(),
		opts: opts,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Registry exposes the session index for the reaper and tests.
func (c *Coordinator) Registry() *Registry { return c.reg }

func (c *Coordinator) HandlePing(ctx context.Context, conn Conn) {
	c.send(ctx, conn, wire.NewPong())
}

// HandleStart creates a session, joins its free seat, or reattaches the
// token's existing seat.
func (c *Coordinator) HandleStart(ctx context.Context, conn Conn, req wire.StartRequest) {
	id := req.GameID.String()
	if id == "" {
		c.send(ctx, conn, wire.NewError(c.text("error.game_not_found")))
		return
	}
	user, err := c.resolve(ctx, req.User)
	if err != nil {
		c.send(ctx, conn, wire.NewError(c.text("error.session_unknown")))
		return
	}

	sess, created := c.reg.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.touch()

	if seat := sess.seatByToken(req.User); seat != nil {
		c.reattachLocked(ctx, sess, seat, conn, user)
		return
	}

	switch {
	case sess.white == nil:
		sess.white = &Seat{User: *user, Token: req.User, Color: rules.White, Conn: conn}
		if bool(req.AgainstAI) && created {
			c.seatEngineLocked(ctx, sess)
			c.send(ctx, conn, wire.NewInit(string(rules.White)))
			c.send(ctx, conn, wire.StartNotice{
				Type:     wire.TypeStart,
				Opponent: sess.black.player(),
				User:     sess.white.player(),
				Chat:     sess.chatLog(),
			})
			c.send(ctx, conn, sess.snapshotUpdate(""))
			return
		}
		c.send(ctx, conn, wire.NewInit(string(rules.White)))
	case sess.black == nil:
		sess.black = &Seat{User: *user, Token: req.User, Color: rules.Black, Conn: conn}
		c.send(ctx, conn, wire.NewInit(string(rules.Black)))
		c.announcePairingLocked(ctx, sess)
	default:
		c.send(ctx, conn, wire.NewError(c.text("error.game_full")))
		return
	}
	obslog.L().Info("seat joined",
		zap.String("game_id", sess.ID),
		zap.String("username", user.Username),
		zap.Bool("against_ai", bool(req.AgainstAI)))
}

func (c *Coordinator) reattachLocked(ctx context.Context, sess *Session, seat *Seat, conn Conn, user *identity.User) {
	seat.Conn = conn
	seat.User = *user
	c.send(ctx, conn, wire.NewInit(string(seat.Color)))
	if sess.full() {
		opp := sess.opponentOf(seat)
		c.send(ctx, conn, wire.StartNotice{
			Type:     wire.TypeStart,
			Opponent: opp.player(),
			User:     seat.player(),
			Chat:     sess.chatLog(),
		})
	}
	c.send(ctx, conn, sess.snapshotUpdate(c.annotate(sess)))
	obslog.L().Info("seat reattached",
		zap.String("game_id", sess.ID),
		zap.String("username", user.Username))
}

func (c *Coordinator) seatEngineLocked(ctx context.Context, sess *Session) {
	sess.vsEngine = true
	sess.black = &Seat{
		User:      identity.User{Username: c.opts.AIName, Rating: c.opts.AIRating},
		Color:     rules.Black,
		Synthetic: true,
	}
	if c.opts.Engine == nil {
		return
	}
	mover, err := c.opts.Engine(ctx)
	if err != nil {
		obslog.L().Warn("engine unavailable, falling back to random moves",
			zap.String("game_id", sess.ID), zap.Error(err))
		return
	}
	sess.mover = mover
}

func (c *Coordinator) announcePairingLocked(ctx context.Context, sess *Session) {
	for _, seat := range []*Seat{sess.white, sess.black} {
		if !seat.attached() {
			continue
		}
		c.send(ctx, seat.Conn, wire.StartNotice{
			Type:     wire.TypeStart,
			Opponent: sess.opponentOf(seat).player(),
			User:     seat.player(),
			Chat:     sess.chatLog(),
		})
	}
	c.broadcastLocked(ctx, sess, sess.snapshotUpdate(c.annotate(sess)))
}

// HandleMove validates and applies a move, then answers for the engine in
// AI games.
func (c *Coordinator) HandleMove(ctx context.Context, conn Conn, req wire.MoveRequest) {
	sess, ok := c.reg.Get(req.GameID.String())
	if !ok {
		c.send(ctx, conn, wire.NewError(c.text("error.game_not_found")))
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.terminal {
		c.send(ctx, conn, wire.NewError(c.text("error.game_over")))
		return
	}
	seat := sess.seatByToken(req.User)
	if seat == nil {
		c.send(ctx, conn, wire.NewError(c.text("error.not_part_of_game")))
		return
	}
	seat.Conn = conn

	if sess.game.SideToMove() != seat.Color {
		c.send(ctx, conn, wire.NewInvalid(c.text("invalid.wrong_color")))
		return
	}
	if color, occupied := sess.game.PieceColorAt(req.From); !occupied || color != seat.Color {
		c.send(ctx, conn, wire.NewInvalid(c.text("invalid.wrong_color")))
		return
	}

	next, mv, err := sess.game.Apply(req.From, req.To, req.Promotion)
	if err != nil {
		c.send(ctx, conn, wire.NewInvalid(c.text("invalid.engine_fail")))
		return
	}
	sess.applyMove(next, mv)
	c.broadcastLocked(ctx, sess, sess.snapshotUpdate(c.annotate(sess)))

	if winner, method, over := c.terminalStatus(sess); over {
		c.finishLocked(ctx, sess, winner, method)
		return
	}
	if sess.vsEngine {
		c.engineReplyLocked(ctx, sess)
	}
}

// engineReplyLocked plays the AI side's answer. Search failures degrade to
// a random legal move so an engine outage never stalls the game.
func (c *Coordinator) engineReplyLocked(ctx context.Context, sess *Session) {
	if c.opts.AIMoveDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.AIMoveDelay):
		}
	}

	uci := ""
	if sess.mover != nil {
		bm, err := sess.mover.Search(ctx, sess.game.FEN())
		if err != nil {
			obslog.L().Warn("engine search failed",
				zap.String("game_id", sess.ID), zap.Error(err))
		} else {
			uci = bm.UCI
		}
	}

	next, mv, err := applyOrRandom(sess, uci, c.randMove(sess))
	if err != nil {
		obslog.L().Error("no engine reply possible",
			zap.String("game_id", sess.ID), zap.Error(err))
		return
	}
	sess.applyMove(next, mv)
	c.broadcastLocked(ctx, sess, sess.snapshotUpdate(c.annotate(sess)))

	if winner, method, over := c.terminalStatus(sess); over {
		c.finishLocked(ctx, sess, winner, method)
	}
}

func applyOrRandom(sess *Session, uci, fallback string) (*rules.Game, rules.Move, error) {
	if uci != "" {
		if next, mv, err := sess.game.ApplyUCI(uci); err == nil {
			return next, mv, nil
		}
	}
	if fallback == "" {
		return nil, rules.Move{}, errors.New("no legal move available")
	}
	return sess.game.ApplyUCI(fallback)
}

func (c *Coordinator) randMove(sess *Session) string {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	mv, ok := sess.game.RandomMove(c.rng)
	if !ok {
		return ""
	}
	return mv
}

// HandleResign ends the game in the opponent's favor. Resigning a finished
// game is a no-op; resigning before an opponent has joined is rejected.
func (c *Coordinator) HandleResign(ctx context.Context, conn Conn, req wire.ResignRequest) {
	sess, ok := c.reg.Get(req.GameID.String())
	if !ok {
		c.send(ctx, conn, wire.NewError(c.text("error.game_not_found")))
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	seat := sess.seatByConn(conn.ID())
	if seat == nil {
		c.send(ctx, conn, wire.NewError(c.text("error.not_part_of_game")))
		return
	}
	if sess.terminal {
		return
	}
	if !sess.full() {
		c.send(ctx, conn, wire.NewError(c.text("error.no_opponent")))
		return
	}
	winner := rules.White
	if seat.Color == rules.White {
		winner = rules.Black
	}
	c.finishLocked(ctx, sess, winner, rules.MethodResignation)
}

// HandleReset rewinds the board to the starting position. Finished games
// stay finished.
func (c *Coordinator) HandleReset(ctx context.Context, conn Conn, req wire.ResetRequest) {
	sess, ok := c.reg.Get(req.GameID.String())
	if !ok {
		c.send(ctx, conn, wire.NewError(c.text("error.game_not_found")))
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.seatByConn(conn.ID()) == nil {
		c.send(ctx, conn, wire.NewError(c.text("error.not_part_of_game")))
		return
	}
	if sess.terminal {
		c.send(ctx, conn, wire.NewError(c.text("error.game_over")))
		return
	}
	sess.resetBoard()
	if sess.mover != nil {
		if err := sess.mover.NewGame(ctx); err != nil {
			obslog.L().Warn("engine reset failed",
				zap.String("game_id", sess.ID), zap.Error(err))
		}
	}
	c.broadcastLocked(ctx, sess, sess.snapshotUpdate(""))
	obslog.L().Info("game reset", zap.String("game_id", sess.ID))
}

// HandleChat appends a message and fans the full log out to both seats.
// Messages from connections without a seat are dropped.
func (c *Coordinator) HandleChat(ctx context.Context, conn Conn, req wire.ChatRequest) {
	sess, ok := c.reg.Get(req.GameID.String())
	if !ok {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	seat := sess.seatByConn(conn.ID())
	if seat == nil {
		return
	}
	sess.chat = append(sess.chat, wire.ChatMessage{
		Username:  seat.User.Username,
		Message:   req.Message,
		Timestamp: time.Now(),
	})
	sess.touch()
	c.broadcastLocked(ctx, sess, wire.ChatUpdate{Type: wire.TypeChatUpdate, GameChat: sess.chatLog()})
}

// HandleSearchGameCode answers whether a game code can still be joined.
func (c *Coordinator) HandleSearchGameCode(ctx context.Context, conn Conn, code wire.GameID) {
	found := false
	if sess, ok := c.reg.Get(code.String()); ok {
		sess.mu.Lock()
		found = !sess.terminal && !sess.full()
		sess.mu.Unlock()
	}
	key := "search.not_found"
	if found {
		key = "search.found"
	}
	c.send(ctx, conn, wire.SearchResult{Type: wire.TypeSearchResult, Result: c.text(key)})
}

// HandleDisconnect detaches the connection from every seat it holds. Seats
// survive so the player can reattach with another START.
func (c *Coordinator) HandleDisconnect(ctx context.Context, conn Conn) {
	c.reg.Range(func(sess *Session) bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		seat := sess.seatByConn(conn.ID())
		if seat == nil {
			return true
		}
		seat.Conn = nil
		if c.opts.NotifyDisconnect && !sess.terminal {
			if opp := sess.opponentOf(seat); opp.attached() {
				c.send(ctx, opp.Conn, wire.GameEvent{
					Type:  wire.TypeGameEvent,
					Event: wire.EventOpponentDisconnected,
				})
			}
		}
		return true
	})
}

// RunReaper tears down sessions idle past the TTL. Blocks until ctx ends.
func (c *Coordinator) RunReaper(ctx context.Context) {
	if c.opts.IdleTTL <= 0 {
		<-ctx.Done()
		return
	}
	interval := c.opts.IdleTTL / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reapIdle()
		}
	}
}

func (c *Coordinator) reapIdle() {
	cutoff := time.Now().Add(-c.opts.IdleTTL)
	var expired []*Session
	c.reg.Range(func(sess *Session) bool {
		sess.mu.Lock()
		if sess.lastActive.Before(cutoff) {
			expired = append(expired, sess)
		}
		sess.mu.Unlock()
		return true
	})
	for _, sess := range expired {
		sess.mu.Lock()
		if sess.mover != nil {
			_ = sess.mover.Close()
			sess.mover = nil
		}
		sess.mu.Unlock()
		c.reg.Delete(sess.ID)
		obslog.L().Info("idle session reaped", zap.String("game_id", sess.ID))
	}
}

// Close tears down every session's engine subprocess.
func (c *Coordinator) Close() {
	c.reg.Range(func(sess *Session) bool {
		sess.mu.Lock()
		if sess.mover != nil {
			_ = sess.mover.Close()
			sess.mover = nil
		}
		sess.mu.Unlock()
		return true
	})
}

// terminalStatus decides whether the game just ended and how. Repetition is
// tracked from the session's own position history since the rules engine
// only declares board-derived outcomes.
func (c *Coordinator) terminalStatus(sess *Session) (rules.Color, rules.Method, bool) {
	st := sess.game.Status()
	if st.Over {
		winner := st.Winner
		if st.Method == rules.MethodInsufficientMaterial {
			// the side that just moved takes the game
			winner = rules.White
			if sess.game.SideToMove() == rules.White {
				winner = rules.Black
			}
		}
		return winner, st.Method, true
	}
	if sess.repetitionCount() >= 3 {
		return rules.NoColor, rules.MethodRepetition, true
	}
	return rules.NoColor, "", false
}

// finishLocked settles the game exactly once: ratings, persistence, archive
// and the terminal event fan-out.
func (c *Coordinator) finishLocked(ctx context.Context, sess *Session, winner rules.Color, method rules.Method) {
	if sess.terminal {
		return
	}
	sess.terminal = true
	sess.touch()

	// snapshot both pre-game ratings before any seat is mutated, so each
	// side's Elo is computed against what the opponent entered the game with
	var whitePre, blackPre int
	if sess.white != nil {
		whitePre = sess.white.User.Rating
	}
	if sess.black != nil {
		blackPre = sess.black.User.Rating
	}
	// games against the engine, or with an empty seat, are unrated
	rated := !sess.vsEngine && sess.white != nil && sess.black != nil

	event := eventForMethod(method)
	for _, seat := range []*Seat{sess.white, sess.black} {
		if seat == nil || seat.Synthetic {
			continue
		}
		result := resultFor(seat.Color, winner)
		old := seat.User.Rating
		newRating := old
		if rated {
			oppPre := blackPre
			if seat.Color == rules.Black {
				oppPre = whitePre
			}
			newRating = rating.NewRating(old, oppPre, scoreFor(result))
			seat.User.Rating = newRating
			c.persistRating(seat.User.UserID, newRating)
		}
		if seat.attached() {
			c.send(ctx, seat.Conn, wire.GameEvent{
				Type:      wire.TypeGameEvent,
				Event:     event,
				EventData: &wire.EventData{Elo: newRating, Result: result},
			})
		}
		obslog.L().Info("rating settled",
			zap.String("game_id", sess.ID),
			zap.String("username", seat.User.Username),
			zap.String("result", result),
			zap.Int("old_rating", old),
			zap.Int("new_rating", newRating))
	}
	c.archiveGame(sess, winner, method)
}

func (c *Coordinator) persistRating(userID int64, newRating int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := c.opts.Resolver.PersistRating(ctx, userID, newRating); err != nil {
			obslog.L().Error("persist rating failed",
				zap.Int64("user_id", userID), zap.Error(err))
		}
	}()
}

func (c *Coordinator) archiveGame(sess *Session, winner rules.Color, method rules.Method) {
	if c.opts.Archive == nil {
		return
	}
	rec := archive.Record{
		GameID:     sess.ID,
		Result:     string(winner),
		Method:     string(method),
		MovesUCI:   sess.game.MovesUCI(),
		MovesSAN:   sess.game.MovesSAN(),
		FinishedAt: time.Now(),
	}
	if winner == rules.NoColor {
		rec.Result = "draw"
	}
	if sess.white != nil {
		rec.White = sess.white.User.Username
	}
	if sess.black != nil {
		rec.Black = sess.black.User.Username
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := c.opts.Archive.Save(ctx, rec); err != nil {
			obslog.L().Error("archive game failed",
				zap.String("game_id", rec.GameID), zap.Error(err))
		}
	}()
}

func eventForMethod(method rules.Method) string {
	switch method {
	case rules.MethodCheckmate:
		return wire.EventCheckmate
	case rules.MethodStalemate:
		return wire.EventStalemate
	case rules.MethodInsufficientMaterial:
		return wire.EventInsufficientMaterial
	case rules.MethodRepetition:
		return wire.EventRepetition
	case rules.MethodResignation:
		return wire.EventResign
	default:
		return wire.EventStalemate
	}
}

func resultFor(color, winner rules.Color) string {
	switch winner {
	case rules.NoColor:
		return wire.ResultDraw
	case color:
		return wire.ResultWin
	default:
		return wire.ResultLoss
	}
}

func scoreFor(result string) rating.Result {
	switch result {
	case wire.ResultWin:
		return rating.Win
	case wire.ResultDraw:
		return rating.Draw
	default:
		return rating.Loss
	}
}

func (c *Coordinator) annotate(sess *Session) string {
	if c.opts.Openings == nil {
		return ""
	}
	return c.opts.Openings.Annotate(sess.game.Movetext())
}

func (c *Coordinator) broadcastLocked(ctx context.Context, sess *Session, v any) {
	for _, seat := range []*Seat{sess.white, sess.black} {
		if seat.attached() && !seat.Synthetic {
			c.send(ctx, seat.Conn, v)
		}
	}
}

func (c *Coordinator) send(ctx context.Context, conn Conn, v any) {
	if conn == nil {
		return
	}
	if err := conn.Send(ctx, v); err != nil {
		obslog.L().Debug("send failed", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
}

func (c *Coordinator) resolve(ctx context.Context, token string) (*identity.User, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.ResolveTimeout)
	defer cancel()
	return c.opts.Resolver.ResolveSession(rctx, token)
}

func (c *Coordinator) text(key string) string {
	if c.opts.Messages == nil {
		return key
	}
	return c.opts.Messages.Text(key)
}
