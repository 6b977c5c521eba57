package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 10 * time.Second

// wsConn adapts a websocket connection to the coordinator's Conn interface.
// Writes are serialized; frames from concurrent broadcasts never interleave.
type wsConn struct {
	id string
	ws *websocket.Conn

	mu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{id: uuid.NewString(), ws: ws}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.ws, v)
}
