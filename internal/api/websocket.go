package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. The stream is one-way;
	// clients only send control frames.
	maxMessageSize = 4 * 1024
)

// WSHandler streams orchestration events over a websocket. Clients
// subscribe to one task via ?task=<id> or to everything by default.
type WSHandler struct {
	upgrader  websocket.Upgrader
	publisher events.Publisher
	logger    *slog.Logger
}

// NewWSHandler creates a websocket handler over the publisher.
func NewWSHandler(pub events.Publisher, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Local observer; the listener binds loopback by default.
				return true
			},
		},
		publisher: pub,
		logger:    logger,
	}
}

// ServeHTTP handles websocket upgrade requests.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	taskID := r.URL.Query().Get("task")
	if taskID == "" {
		taskID = events.GlobalTaskID
	}
	ch := h.publisher.Subscribe(taskID)
	done := make(chan struct{})

	go h.readPump(conn, done)
	go h.writePump(conn, taskID, ch, done)
}

// readPump consumes control frames until the peer goes away.
func (h *WSHandler) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards events to the peer and keeps the connection alive
// with pings.
func (h *WSHandler) writePump(conn *websocket.Conn, taskID string, ch <-chan events.Event, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.publisher.Unsubscribe(taskID, ch)
		_ = conn.Close()
	}()

	for {
		select {
		case event, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
