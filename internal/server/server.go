// Package server exposes the game protocol over a websocket endpoint. One
// goroutine per connection reads envelopes and dispatches them to the
// coordinator; all writes go back through the connection's serialized
// sender.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/gambitshq/gambit/internal/game"
	"github.com/gambitshq/gambit/internal/obslog"
	"github.com/gambitshq/gambit/pkg/wire"
)

type Server struct {
	coord *game.Coordinator
	http  *http.Server
}

func New(addr, wsPath string, coord *game.Coordinator) *Server {
	s := &Server{coord: coord}
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		obslog.L().Warn("websocket accept failed", zap.Error(err))
		return
	}
	conn := newWSConn(ws)
	obslog.L().Info("client connected", zap.String("conn_id", conn.ID()))

	ctx := r.Context()
	defer func() {
		s.coord.HandleDisconnect(context.Background(), conn)
		_ = ws.Close(websocket.StatusNormalClosure, "")
		obslog.L().Info("client disconnected", zap.String("conn_id", conn.ID()))
	}()

	for {
		var env wire.Envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			return
		}
		s.dispatch(ctx, conn, env)
	}
}

// dispatch routes one envelope. A panic in a handler drops the frame, not
// the connection.
func (s *Server) dispatch(ctx context.Context, conn game.Conn, env wire.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			obslog.L().Error("handler panic",
				zap.String("conn_id", conn.ID()),
				zap.String("frame_type", env.Type),
				zap.Any("panic", rec))
		}
	}()

	switch env.Type {
	case wire.TypePing:
		s.coord.HandlePing(ctx, conn)
	case wire.TypeStart:
		if req, ok := decode[wire.StartRequest](conn, env); ok {
			s.coord.HandleStart(ctx, conn, req)
		}
	case wire.TypeMove:
		if req, ok := decode[wire.MoveRequest](conn, env); ok {
			s.coord.HandleMove(ctx, conn, req)
		}
	case wire.TypeReset:
		if req, ok := decode[wire.ResetRequest](conn, env); ok {
			s.coord.HandleReset(ctx, conn, req)
		}
	case wire.TypeResign:
		if req, ok := decode[wire.ResignRequest](conn, env); ok {
			s.coord.HandleResign(ctx, conn, req)
		}
	case wire.TypeChat:
		if req, ok := decode[wire.ChatRequest](conn, env); ok {
			s.coord.HandleChat(ctx, conn, req)
		}
	case wire.TypeSearchGameCode:
		s.coord.HandleSearchGameCode(ctx, conn, env.Code)
	default:
		// the reference protocol answers anything unrecognized with a PONG
		obslog.L().Debug("unknown frame type",
			zap.String("conn_id", conn.ID()),
			zap.String("frame_type", env.Type))
		s.coord.HandlePing(ctx, conn)
	}
}

func decode[T any](conn game.Conn, env wire.Envelope) (T, bool) {
	var req T
	if len(env.Data) == 0 {
		obslog.L().Debug("frame without data",
			zap.String("conn_id", conn.ID()),
			zap.String("frame_type", env.Type))
		return req, false
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		obslog.L().Debug("malformed frame data",
			zap.String("conn_id", conn.ID()),
			zap.String("frame_type", env.Type),
			zap.Error(err))
		return req, false
	}
	return req, true
}
