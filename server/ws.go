package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jmorganca/speedtest/api"
	"github.com/jmorganca/speedtest/envconfig"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts non-browser clients, same-host pages and the
// configured origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://") == r.Host {
		return true
	}

	for _, allowed := range envconfig.AllowOrigins {
		if ok, _ := path.Match(allowed, origin); ok {
			return true
		}
	}

	slog.Debug("websocket origin rejected", "origin", origin)
	return false
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writeError(msg string) error {
	return c.WriteJSON(gin.H{"error": msg})
}

// WSHandler accepts commands over a WebSocket and writes back the events of
// the tests they start. Closing the socket cancels those tests.
func (s *Server) WSHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	ws := &wsConn{conn: conn}

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		conn.Close()
	}()

	for {
		var cmd api.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read failed", "error", err)
			}
			return
		}

		if err := s.handleCommand(ctx, ws, &wg, cmd); err != nil {
			slog.Debug("websocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) handleCommand(ctx context.Context, ws *wsConn, wg *sync.WaitGroup, cmd api.WSCommand) error {
	switch cmd.Command {
	case "start":
		stream, ok, err := s.engine.Start(ctx, cmd.Kind, configFromRequest(cmd.Kind, cmd.TestRequest))
		if err != nil {
			return ws.writeError(err.Error())
		}

		if !ok {
			return ws.writeError(fmt.Sprintf("%s test already running", cmd.Kind))
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stream.Close()

			for ev := range stream.Events() {
				if err := ws.WriteJSON(ev); err != nil {
					slog.Debug("websocket write failed", "error", err)
					return
				}
			}
		}()
	case "cancel":
		if err := s.engine.Cancel(cmd.Kind); err != nil {
			return ws.writeError(err.Error())
		}
	case "reset":
		if err := s.engine.Reset(cmd.Kind); err != nil {
			return ws.writeError(err.Error())
		}
	case "state":
		return ws.WriteJSON(s.engine.States())
	default:
		return ws.writeError(fmt.Sprintf("unknown command %q", cmd.Command))
	}

	return nil
}
