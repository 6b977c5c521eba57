package game

import (
	"sync"
	"time"

	"github.com/gambitshq/gambit/internal/rules"
	"github.com/gambitshq/gambit/pkg/wire"
)

// Session is one game room. All fields behind mu; handlers lock for the
// duration of each protocol event so broadcasts observe a consistent
// snapshot.
type Session struct {
	ID string

	mu          sync.Mutex
	game        *rules.Game
	positions   []string // normalized FENs, len == moves+1
	moveHistory []wire.MovePair
	chat        []wire.ChatMessage
	white       *Seat
	black       *Seat
	vsEngine    bool
	mover       Mover
	terminal    bool
	lastActive  time.Time
	createdAt   time.Time
}

func newSession(id string) *Session {
	g := rules.NewGame()
	now := time.Now()
	return &Session{
		ID:         id,
		game:       g,
		positions:  []string{rules.NormalizeFEN(g.FEN())},
		lastActive: now,
		createdAt:  now,
	}
}

// touch refreshes the idle clock. Callers hold mu.
func (s *Session) touch() { s.lastActive = time.Now() }

// seatByToken returns the seat owned by the session token, if any. Callers
// hold mu.
func (s *Session) seatByToken(token string) *Seat {
	if s.white != nil && s.white.Token == token {
		return s.white
	}
	if s.black != nil && s.black.Token == token {
		return s.black
	}
	return nil
}

// seatByConn matches a seat by its attached connection handle. Callers hold
// mu.
func (s *Session) seatByConn(connID string) *Seat {
	if s.white.attached() && s.white.Conn.ID() == connID {
		return s.white
	}
	if s.black.attached() && s.black.Conn.ID() == connID {
		return s.black
	}
	return nil
}

func (s *Session) opponentOf(seat *Seat) *Seat {
	if seat == s.white {
		return s.black
	}
	return s.white
}

// full reports whether both seats are taken. Callers hold mu.
func (s *Session) full() bool { return s.white != nil && s.black != nil }

// applyMove records an accepted move. Callers hold mu.
func (s *Session) applyMove(next *rules.Game, mv rules.Move) {
	s.game = next
	s.positions = append(s.positions, rules.NormalizeFEN(next.FEN()))
	s.moveHistory = append(s.moveHistory, wire.MovePair{From: mv.From, To: mv.To, Promotion: mv.Promotion})
	s.touch()
}

// repetitionCount reports how often the current position has occurred.
// Callers hold mu.
func (s *Session) repetitionCount() int {
	cur := s.positions[len(s.positions)-1]
	n := 0
	for _, p := range s.positions {
		if p == cur {
			n++
		}
	}
	return n
}

// resetBoard rewinds to the initial position, keeping seats and chat.
// Callers hold mu.
func (s *Session) resetBoard() {
	g := rules.NewGame()
	s.game = g
	s.positions = []string{rules.NormalizeFEN(g.FEN())}
	s.moveHistory = nil
	s.touch()
}

// snapshotUpdate builds the UPDATE frame for the current position. Callers
// hold mu.
func (s *Session) snapshotUpdate(comment string) wire.Update {
	return wire.Update{
		Type:        wire.TypeUpdate,
		PGN:         s.game.Movetext(),
		History:     s.game.MovesSAN(),
		MoveHistory: append([]wire.MovePair(nil), s.moveHistory...),
		Comment:     comment,
		InCheck:     s.game.InCheck(),
	}
}

// chatLog copies the chat history. Callers hold mu.
func (s *Session) chatLog() []wire.ChatMessage {
	return append([]wire.ChatMessage(nil), s.chat...)
}
