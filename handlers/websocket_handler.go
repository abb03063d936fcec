package handlers

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/Dosada05/tournament-history/realtime"
	"github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	hub      *realtime.Hub
	gateway  *realtime.Gateway
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler разрешает Origin из allowedOrigins; "*" разрешает любой.
func NewWebSocketHandler(hub *realtime.Hub, gateway *realtime.Gateway, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	allowAll := slices.Contains(allowedOrigins, "*")
	return &WebSocketHandler{
		hub:     hub,
		gateway: gateway,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// ServeWs подписывает websocket-клиента на события игровой сессии.
// Клиент подключается к /ws/sessions/{gameSessionID}
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	gameSessionID, err := getIDFromURL(r, "gameSessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if !h.gateway.Connect(r.Context(), gameSessionID) {
		h.logger.Warn("realtime channel unavailable, live feed will be silent", slog.String("game_session_id", gameSessionID))
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже отправил HTTP-ошибку клиенту.
		h.logger.Warn("failed to upgrade websocket", slog.String("game_session_id", gameSessionID), slog.Any("error", err))
		return
	}

	room := realtime.RoomName(gameSessionID)
	client := realtime.NewClient(h.hub, conn, room, h.logger)
	if !h.hub.Attach(client) {
		conn.Close()
		return
	}
	sub := h.gateway.Subscribe(gameSessionID, client.Deliver)

	go client.WritePump()
	go func() {
		client.ReadPump()
		sub.Unsubscribe()
		h.gateway.Release(gameSessionID)
	}()

	h.logger.Info("websocket client attached", slog.String("room", room))
}
