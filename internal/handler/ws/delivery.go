// Package ws implements the websocket delivery transport spec.md §1 calls
// "analogous" to the long-poll endpoint: same connection/queue model, a
// streaming push instead of a polled pull. Grounded on the teacher's
// internal/handler/ws/delivery.go pump loop.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/channelstream/broker/internal/domain/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const pingInterval = 20 * time.Second

type Handler struct {
	reg *registry.Registry
	log *slog.Logger
}

func NewHandler(reg *registry.Registry, log *slog.Logger) *Handler {
	return &Handler{reg: reg, log: log}
}

// ServeHTTP upgrades the request and streams every batch enqueued for
// conn_id until a write (a batch or a ping) fails. Tearing the connection
// down elsewhere (GC, explicit disconnect) does not end the loop by itself.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := r.URL.Query().Get("conn_id")
	conn, ok := h.reg.LookupConnection(connID)
	if !ok {
		http.Error(w, "unknown connection", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err, "conn_id", connID)
		return
	}
	defer ws.Close()

	queue := conn.AttachQueue()
	conn.DeliverCatchupMessages()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case batch, ok := <-queue:
			if !ok {
				return
			}
			conn.MarkActivity()
			body, err := json.Marshal(batch)
			if err != nil {
				h.log.Warn("marshal websocket batch failed", "err", err, "conn_id", connID)
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
