package realtime

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// WSHandler bridges a websocket connection onto a hub channel so
// customers, restaurants, and couriers can watch their streams.
type WSHandler struct {
	log      *slog.Logger
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(log *slog.Logger, hub *Hub) *WSHandler {
	return &WSHandler{
		log: log,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "channel is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	sub := h.hub.Subscribe(channel)

	// Reader goroutine: its only job is noticing the peer went away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		sub.Close()
		_ = conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug("websocket write failed", "channel", channel, "err", err)
				return
			}
		}
	}
}
