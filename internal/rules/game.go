// Package rules wraps the chess rules engine behind the small surface the
// session layer needs: apply a move, inspect the board, detect terminal
// outcomes. Positions are never mutated in place; every applied move replays
// the accumulated move list onto a fresh game so earlier snapshots stay
// readable mid-broadcast.
package rules

import (
	"fmt"
	"math/rand"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Color identifies a side.
type Color string

const (
	White   Color = "white"
	Black   Color = "black"
	NoColor Color = ""
)

// Method names the way a game ended.
type Method string

const (
	MethodCheckmate            Method = "checkmate"
	MethodStalemate            Method = "stalemate"
	MethodInsufficientMaterial Method = "insufficient_material"
	MethodRepetition           Method = "repetition"
	MethodResignation          Method = "resignation"
	MethodOther                Method = "other"
)

// ErrIllegalMove covers both malformed squares and moves the engine rejects;
// the protocol reports both the same way.
var ErrIllegalMove = fmt.Errorf("illegal move")

// Move is an applied move in both coordinate and algebraic form.
type Move struct {
	From      string
	To        string
	Promotion string
	UCI       string
	SAN       string
}

// Status reports whether the position is terminal and how.
type Status struct {
	Over   bool
	Winner Color // NoColor for draws
	Method Method
}

// Game is one immutable position snapshot plus the move list that produced it.
type Game struct {
	inner   *nchess.Game
	moves   []string // UCI
	san     []string
	lastSAN string
}

func NewGame() *Game {
	return &Game{inner: nchess.NewGame()}
}

func replay(moves []string) (*nchess.Game, error) {
	g := nchess.NewGame()
	for _, mv := range moves {
		if err := g.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay %s: %w", mv, err)
		}
	}
	return g, nil
}

func (g *Game) FEN() string { return g.inner.FEN() }

// PGN returns the full game record including headers.
func (g *Game) PGN() string { return g.inner.String() }

// Movetext returns the numbered SAN move list without headers. This is the
// notation transmitted in UPDATE frames and used for opening lookups.
func (g *Game) Movetext() string {
	var b strings.Builder
	for i := 0; i < len(g.san); i += 2 {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%d. %s", i/2+1, g.san[i])
		if i+1 < len(g.san) {
			b.WriteString(" ")
			b.WriteString(g.san[i+1])
		}
	}
	return b.String()
}

// MovesUCI returns a copy of the accumulated UCI move list.
func (g *Game) MovesUCI() []string {
	return append([]string(nil), g.moves...)
}

// MovesSAN returns a copy of the accumulated SAN move list.
func (g *Game) MovesSAN() []string {
	return append([]string(nil), g.san...)
}

func (g *Game) SideToMove() Color {
	if g.inner.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

// InCheck reports whether the side to move is in check. Derived from the SAN
// of the move that produced this position.
func (g *Game) InCheck() bool {
	return strings.ContainsAny(g.lastSAN, "+#")
}

// PieceColorAt returns the color of the piece on the given square, or false
// when the square is empty or malformed.
func (g *Game) PieceColorAt(square string) (Color, bool) {
	sq, err := parseSquare(square)
	if err != nil {
		return NoColor, false
	}
	piece := g.inner.Position().Board().Piece(sq)
	if piece == nchess.NoPiece {
		return NoColor, false
	}
	if piece.Color() == nchess.White {
		return White, true
	}
	return Black, true
}

// Apply plays from→to and returns the resulting position as a new Game. An
// empty promotion defaults to queen when a pawn reaches the last rank.
func (g *Game) Apply(from, to, promotion string) (*Game, Move, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	if _, err := parseSquare(from); err != nil {
		return nil, Move{}, fmt.Errorf("%w: from %q", ErrIllegalMove, from)
	}
	if _, err := parseSquare(to); err != nil {
		return nil, Move{}, fmt.Errorf("%w: to %q", ErrIllegalMove, to)
	}

	promo := strings.ToLower(strings.TrimSpace(promotion))
	if promo != "" && !strings.Contains("qrbn", promo) {
		return nil, Move{}, fmt.Errorf("%w: promotion %q", ErrIllegalMove, promotion)
	}
	if promo == "" && g.pawnReachesLastRank(from, to) {
		promo = "q"
	}
	return g.ApplyUCI(from + to + promo)
}

// ApplyUCI plays a move given in compact algebraic form (e2e4, e7e8q). Used
// directly for engine replies, which arrive already state-consistent.
func (g *Game) ApplyUCI(uci string) (*Game, Move, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) < 4 || len(uci) > 5 {
		return nil, Move{}, fmt.Errorf("%w: %q", ErrIllegalMove, uci)
	}

	ng, err := replay(g.moves)
	if err != nil {
		return nil, Move{}, err
	}
	pos := ng.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil, Move{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	ng.Move(mv, nil)

	applied := Move{From: uci[:2], To: uci[2:4], Promotion: uci[4:], UCI: uci, SAN: san}
	next := &Game{
		inner:   ng,
		moves:   append(append([]string(nil), g.moves...), uci),
		san:     append(append([]string(nil), g.san...), san),
		lastSAN: san,
	}
	return next, applied, nil
}

func (g *Game) pawnReachesLastRank(from, to string) bool {
	sq, err := parseSquare(from)
	if err != nil {
		return false
	}
	piece := g.inner.Position().Board().Piece(sq)
	if piece == nchess.NoPiece || piece.Type() != nchess.Pawn {
		return false
	}
	return to[1] == '8' || to[1] == '1'
}

// Status inspects the engine-declared outcome. Threefold repetition is not
// auto-declared by the engine; the session layer detects it from its own
// position history (see NormalizeFEN).
func (g *Game) Status() Status {
	outcome := g.inner.Outcome()
	if outcome == nchess.NoOutcome {
		return Status{}
	}
	st := Status{Over: true, Method: mapMethod(g.inner.Method())}
	switch outcome {
	case nchess.WhiteWon:
		st.Winner = White
	case nchess.BlackWon:
		st.Winner = Black
	}
	return st
}

func mapMethod(m nchess.Method) Method {
	switch m {
	case nchess.Checkmate:
		return MethodCheckmate
	case nchess.Stalemate:
		return MethodStalemate
	case nchess.InsufficientMaterial:
		return MethodInsufficientMaterial
	default:
		return MethodOther
	}
}

// NormalizeFEN strips the move counters from a FEN so positions can be
// compared for repetition (same placement, turn, castling and en passant
// rights).
func NormalizeFEN(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return fen
	}
	return strings.Join(fields[:4], " ")
}

// LegalMovesFrom lists the legal destination moves for the piece on the given
// square, in UCI form.
func (g *Game) LegalMovesFrom(square string) []string {
	square = strings.ToLower(strings.TrimSpace(square))
	if _, err := parseSquare(square); err != nil {
		return nil
	}
	base, err := replay(g.moves)
	if err != nil {
		return nil
	}
	pos := base.Position()

	var out []string
	for _, target := range allSquares() {
		candidates := []string{square + target}
		if g.pawnReachesLastRank(square, target) {
			candidates = []string{square + target + "q", square + target + "r", square + target + "b", square + target + "n"}
		}
		for _, uci := range candidates {
			if _, err := (nchess.UCINotation{}).Decode(pos, uci); err == nil {
				out = append(out, uci)
			}
		}
	}
	return out
}

// RandomMove picks a pseudo-random legal move, used as the engine fallback.
func (g *Game) RandomMove(r *rand.Rand) (string, bool) {
	mover := g.SideToMove()
	var moves []string
	for _, sq := range allSquares() {
		if color, ok := g.PieceColorAt(sq); !ok || color != mover {
			continue
		}
		moves = append(moves, g.LegalMovesFrom(sq)...)
	}
	if len(moves) == 0 {
		return "", false
	}
	return moves[r.Intn(len(moves))], true
}

func parseSquare(s string) (nchess.Square, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, fmt.Errorf("bad square %q", s)
	}
	file := nchess.File(s[0] - 'a')
	rank := nchess.Rank(s[1] - '1')
	return nchess.NewSquare(file, rank), nil
}

func allSquares() []string {
	out := make([]string, 0, 64)
	for f := byte('a'); f <= 'h'; f++ {
		for r := byte('1'); r <= '8'; r++ {
			out = append(out, string([]byte{f, r}))
		}
	}
	return out
}
