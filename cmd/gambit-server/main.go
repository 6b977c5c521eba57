package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gambitshq/gambit/internal/archive"
	appcfg "github.com/gambitshq/gambit/internal/config"
	"github.com/gambitshq/gambit/internal/engine"
	"github.com/gambitshq/gambit/internal/game"
	"github.com/gambitshq/gambit/internal/identity"
	"github.com/gambitshq/gambit/internal/msgcat"
	"github.com/gambitshq/gambit/internal/obslog"
	"github.com/gambitshq/gambit/internal/openings"
	"github.com/gambitshq/gambit/internal/server"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	messages, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("messages init error: %v", err)
	}
	book, err := openings.Load(cfg.ECOBookPath)
	if err != nil {
		log.Fatalf("opening book error: %v", err)
	}
	obslog.L().Info("opening book loaded", zap.Int("entries", book.Len()))

	resolver, closeResolver, err := buildResolver(cfg)
	if err != nil {
		log.Fatalf("identity init error: %v", err)
	}

	var store *archive.Store
	if cfg.RedisURL != "" {
		store, err = archive.New(cfg.RedisURL, cfg.ArchiveTTL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
	}

	factory, aiRating := buildEngine(cfg)

	coord := game.NewCoordinator(game.CoordinatorOptions{
		Resolver:         resolver,
		Messages:         messages,
		Openings:         book,
		Archive:          store,
		Engine:           factory,
		AIRating:         aiRating,
		AIMoveDelay:      cfg.AIMoveDelay,
		ResolveTimeout:   cfg.ResolveTimeout,
		IdleTTL:          cfg.SessionIdleTTL,
		NotifyDisconnect: cfg.NotifyDisconnect,
	})

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	go coord.RunReaper(reaperCtx)

	srv := server.New(cfg.ListenAddr, cfg.WSPath, coord)
	go func() {
		obslog.L().Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("ws_path", cfg.WSPath))
		if err := srv.ListenAndServe(); err != nil {
			obslog.L().Fatal("server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	obslog.L().Info("shutting down")

	stopReaper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	coord.Close()
	if store != nil {
		_ = store.Close()
	}
	if closeResolver != nil {
		_ = closeResolver()
	}
}

func buildResolver(cfg *appcfg.AppConfig) (identity.Resolver, func() error, error) {
	switch cfg.IdentityBackend {
	case appcfg.IdentityPostgres:
		r, err := identity.NewPostgresResolver(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case appcfg.IdentityHTTP:
		r := identity.NewHTTPResolver(cfg.IdentityBaseURL, cfg.IdentityAPIKey,
			identity.WithTimeout(cfg.ResolveTimeout))
		return r, nil, nil
	default:
		return identity.NewMemoryResolver(), nil, nil
	}
}

// buildEngine returns the AI game factory and the synthetic opponent's
// displayed rating. Without a configured binary there is no factory and AI
// games play random legal moves.
func buildEngine(cfg *appcfg.AppConfig) (game.EngineFactory, int) {
	presets, err := engine.LoadPresets(cfg.EnginePresetsFile)
	if err != nil {
		log.Fatalf("engine presets error: %v", err)
	}
	preset, err := presets.Get(cfg.EnginePreset)
	if err != nil {
		log.Fatalf("engine preset error: %v", err)
	}
	if cfg.StockfishPath == "" {
		obslog.L().Warn("no engine binary configured, AI games use random moves")
		return nil, preset.ApproxRating
	}
	factory := func(ctx context.Context) (game.Mover, error) {
		return engine.NewSession(ctx, cfg.StockfishPath, preset)
	}
	return factory, preset.ApproxRating
}
