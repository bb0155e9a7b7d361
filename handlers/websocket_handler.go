package handlers

import (
	"log/slog"
	"net/http"

	"github.com/cpbr-dev/Clog-Bot/broadcast"
	"github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	hub      *broadcast.Hub
	boards   LeaderboardSource
	upgrader websocket.Upgrader
}

// NewWebSocketHandler: allowedOrigins empty means any origin.
func NewWebSocketHandler(hub *broadcast.Hub, boards LeaderboardSource, allowedOrigins []string) *WebSocketHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &WebSocketHandler{
		hub:    hub,
		boards: boards,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin] || origins["*"]
			},
		},
	}
}

// ServeWs godoc
// @Summary Подписка на обновления лидерборда (WebSocket)
// @Tags leaderboard
// @Description Сразу отправляет текущий снимок, затем каждый новый.
// @Router /ws/leaderboard [get]
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам отвечает клиенту
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := broadcast.NewClient(h.hub, conn)
	if err := h.hub.Serve(r.Context(), client, h.boards.Current()); err != nil {
		slog.Warn("websocket client not registered", "error", err)
	}
}
