// Package identity is the gateway to the external user store: it resolves a
// session token into a user profile and persists rating changes. Session
// tokens are opaque to the game core and resolved lazily per protocol event.
package identity

import (
	"context"
	"errors"
)

// User is a resolved session token.
type User struct {
	UserID   int64
	Username string
	Rating   int
}

// ErrSessionNotFound is returned when a token resolves to no user.
var ErrSessionNotFound = errors.New("session not found")

// Resolver is the collaborator surface consumed by the game core.
type Resolver interface {
	// ResolveSession maps a session token to its user.
	ResolveSession(ctx context.Context, token string) (*User, error)
	// PersistRating stores a new rating for the user. Callers treat this as
	// fire-and-forget; failures are logged, never surfaced to the client.
	PersistRating(ctx context.Context, userID int64, rating int) error
}
