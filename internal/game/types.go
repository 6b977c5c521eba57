// Package game holds the session registry and the coordinator that drives
// the duplex game protocol: seat management, move validation, engine games,
// terminal detection and rating settlement.
package game

import (
	"context"

	"github.com/gambitshq/gambit/internal/engine"
	"github.com/gambitshq/gambit/internal/identity"
	"github.com/gambitshq/gambit/internal/rules"
	"github.com/gambitshq/gambit/pkg/wire"
)

// Conn is one client connection as seen by the coordinator. The transport
// layer provides the real implementation; tests substitute fakes.
type Conn interface {
	// ID is a stable handle for the lifetime of the connection.
	ID() string
	// Send marshals and writes one outbound frame.
	Send(ctx context.Context, v any) error
}

// Mover is the engine collaborator for AI games. *engine.Session satisfies
// it; tests script their own.
type Mover interface {
	Search(ctx context.Context, fen string) (engine.BestMove, error)
	NewGame(ctx context.Context) error
	Close() error
}

// EngineFactory spawns a Mover for a new AI game. A nil factory leaves the
// server without an engine; AI games then fall back to random legal moves.
type EngineFactory func(ctx context.Context) (Mover, error)

// Seat is one side of a game. Conn is nil while the player is detached;
// the seat itself survives disconnects so the player can rejoin.
type Seat struct {
	User      identity.User
	Token     string
	Color     rules.Color
	Conn      Conn
	Synthetic bool // engine-operated seat, never rated
}

func (s *Seat) attached() bool { return s != nil && s.Conn != nil }

func (s *Seat) player() wire.Player {
	return wire.Player{UserID: s.User.UserID, Username: s.User.Username, Elo: s.User.Rating}
}
