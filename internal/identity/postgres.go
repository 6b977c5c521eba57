package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// pgresolver resolves sessions against the users table owned by the account
// service.
type pgresolver struct {
	db *sql.DB
}

func NewPostgresResolver(databaseURL string) (*pgresolver, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &pgresolver{db: db}, nil
}

func (r *pgresolver) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *pgresolver) ResolveSession(ctx context.Context, token string) (*User, error) {
	const q = `SELECT id, username, elo FROM users WHERE session = $1 LIMIT 1`
	var u User
	err := r.db.QueryRowContext(ctx, q, strings.TrimSpace(token)).Scan(&u.UserID, &u.Username, &u.Rating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return &u, nil
}

func (r *pgresolver) PersistRating(ctx context.Context, userID int64, rating int) error {
	const q = `UPDATE users SET elo = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, q, rating, userID); err != nil {
		return fmt.Errorf("persist rating: %w", err)
	}
	return nil
}
