// Package archive stores finished games in Redis for a retention window.
// Records are written fire-and-forget when a game reaches a terminal state
// and expire on their own; nothing in the live game path reads them back.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gambit:archive:"

// ErrNotFound is returned by Load when no record exists for the game id.
var ErrNotFound = errors.New("archived game not found")

// Record is the archived form of a finished game.
type Record struct {
	GameID     string    `json:"gameId"`
	White      string    `json:"white"`
	Black      string    `json:"black"`
	Result     string    `json:"result"`
	Method     string    `json:"method"`
	MovesUCI   []string  `json:"movesUci"`
	MovesSAN   []string  `json:"movesSan"`
	PGN        string    `json:"pgn"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Store writes finished games to Redis with a TTL.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis at the given URL. TTL bounds how long records are
// kept; zero disables expiry.
func New(redisURL string, ttl time.Duration) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{rdb: rdb, ttl: ttl}, nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Save writes the record under its game id, filling in the PGN if the
// caller left it empty.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	if strings.TrimSpace(rec.GameID) == "" {
		return fmt.Errorf("archive record needs a game id")
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	if rec.PGN == "" {
		rec.PGN = BuildPGN(rec)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+rec.GameID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store archive record: %w", err)
	}
	return nil
}

// Load fetches an archived game by id.
func (s *Store) Load(ctx context.Context, gameID string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+gameID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load archive record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode archive record: %w", err)
	}
	return &rec, nil
}

// BuildPGN renders a record's move list as PGN text.
func BuildPGN(rec Record) string {
	var b strings.Builder
	date := rec.FinishedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Gambit\"]\n")
	b.WriteString("[Site \"gambit\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizeTag(rec.White)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizeTag(rec.Black)))
	if strings.TrimSpace(rec.Method) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizeTag(strings.ToLower(rec.Method))))
	}
	pgnResult := mapResultToPGN(rec.Result)
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(rec.MovesSAN); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(rec.MovesSAN[i])))
		if i+1 < len(rec.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func sanitizeTag(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
