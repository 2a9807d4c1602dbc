package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler upgrades HTTP requests to websocket subscribers of a relay Server.
type Handler struct {
	server        *Server
	upgrader      websocket.Upgrader
	allowedOrigin string
}

// NewHandler builds the websocket endpoint. An empty allowedOrigin permits
// any origin.
func NewHandler(server *Server, allowedOrigin string) *Handler {
	h := &Handler{server: server, allowedOrigin: allowedOrigin}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if h.allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == h.allowedOrigin
		},
	}
	return h
}

// controlMsg is the only inbound frame subscribers may send.
type controlMsg struct {
	Type string `json:"type"`
}

var pongPayload = []byte(`{"type":"pong"}`)

// ServeHTTP attaches one subscriber for the lifetime of the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	id, recv := h.server.Subscribe()
	pong := make(chan struct{}, 1)
	done := make(chan struct{})

	// Read pump: answers application-level pings, detects disconnect.
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))
			var msg controlMsg
			if json.Unmarshal(raw, &msg) == nil && msg.Type == "ping" {
				select {
				case pong <- struct{}{}:
				default:
				}
			}
		}
	}()

	// Write pump: single writer for the connection.
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.server.Unsubscribe(id)
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-recv:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-pong:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, pongPayload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
