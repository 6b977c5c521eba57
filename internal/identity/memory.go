package identity

import (
	"context"
	"strings"
	"sync"
)

// memresolver is a development and test backend holding users in memory.
type memresolver struct {
	mu      sync.RWMutex
	byToken map[string]User
	nextID  int64
}

// NewMemoryResolver returns an in-memory Resolver. Tokens registered through
// Register resolve to stable user ids.
func NewMemoryResolver() *memresolver {
	return &memresolver{byToken: make(map[string]User)}
}

// Register adds a user for the given token and returns its assigned id.
func (m *memresolver) Register(token, username string, rating int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byToken[token]; ok {
		return u.UserID
	}
	m.nextID++
	m.byToken[token] = User{UserID: m.nextID, Username: username, Rating: rating}
	return m.nextID
}

func (m *memresolver) ResolveSession(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	m.mu.RLock()
	u, ok := m.byToken[token]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	copy := u
	return &copy, nil
}

func (m *memresolver) PersistRating(ctx context.Context, userID int64, rating int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, u := range m.byToken {
		if u.UserID == userID {
			u.Rating = rating
			m.byToken[token] = u
		}
	}
	return nil
}

// Rating reports the stored rating for a user id; test helper.
func (m *memresolver) Rating(userID int64) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.byToken {
		if u.UserID == userID {
			return u.Rating, true
		}
	}
	return 0, false
}
