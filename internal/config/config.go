// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Identity backend selectors.
const (
	IdentityPostgres = "postgres"
	IdentityHTTP     = "http"
	IdentityMemory   = "memory"
)

type AppConfig struct {
	// Transport
	ListenAddr string
	WSPath     string

	// Identity collaborator
	IdentityBackend string
	DatabaseURL     string
	IdentityBaseURL string
	IdentityAPIKey  string
	ResolveTimeout  time.Duration

	// Engine
	StockfishPath     string
	EnginePreset      string
	EnginePresetsFile string
	AIMoveDelay       time.Duration

	// Session behavior
	SessionIdleTTL   time.Duration
	NotifyDisconnect bool

	// Finished-game archive (optional)
	RedisURL   string
	ArchiveTTL time.Duration

	// Content
	ECOBookPath string
	MessagesDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:      ":8080",
		WSPath:          "/ws",
		IdentityBackend: IdentityMemory,
		ResolveTimeout:  5 * time.Second,
		EnginePreset:    "level3",
		AIMoveDelay:     500 * time.Millisecond,
		SessionIdleTTL:  24 * time.Hour,
		ArchiveTTL:      7 * 24 * time.Hour,
	}

	if v := strings.TrimSpace(os.Getenv("WS_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("WS_PATH")); v != "" {
		cfg.WSPath = v
	}

	if v := strings.TrimSpace(os.Getenv("IDENTITY_BACKEND")); v != "" {
		cfg.IdentityBackend = strings.ToLower(v)
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.IdentityBaseURL = strings.TrimSpace(os.Getenv("IDENTITY_BASE_URL"))
	cfg.IdentityAPIKey = strings.TrimSpace(os.Getenv("IDENTITY_API_KEY"))
	if d, ok := durationFromMillisEnv("RESOLVE_TIMEOUT_MS"); ok {
		cfg.ResolveTimeout = d
	}

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if v := strings.TrimSpace(os.Getenv("ENGINE_PRESET")); v != "" {
		cfg.EnginePreset = v
	}
	cfg.EnginePresetsFile = strings.TrimSpace(os.Getenv("ENGINE_PRESETS_FILE"))
	if d, ok := durationFromMillisEnv("AI_MOVE_DELAY_MS"); ok {
		cfg.AIMoveDelay = d
	}

	if v := strings.TrimSpace(os.Getenv("SESSION_IDLE_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("SESSION_IDLE_TTL %q: %v", v, err)
		}
		cfg.SessionIdleTTL = d
	}
	if v := strings.TrimSpace(os.Getenv("NOTIFY_DISCONNECT")); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			cfg.NotifyDisconnect = b
		}
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("ARCHIVE_TTL %q: %v", v, err)
		}
		cfg.ArchiveTTL = d
	}

	cfg.ECOBookPath = strings.TrimSpace(os.Getenv("ECO_BOOK_PATH"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	switch cfg.IdentityBackend {
	case IdentityPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres identity backend")
		}
	case IdentityHTTP:
		if cfg.IdentityBaseURL == "" {
			return nil, errors.New("IDENTITY_BASE_URL is required for the http identity backend")
		}
	case IdentityMemory:
	default:
		return nil, fmt.Errorf("unknown IDENTITY_BACKEND %q", cfg.IdentityBackend)
	}

	return cfg, nil
}

func durationFromMillisEnv(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}
