package handler

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/aman-churiwal/velero-api/internal/auth"
	"github.com/aman-churiwal/velero-api/internal/hub"
)

type WebSocketHandler struct {
	manager  *hub.ConnectionManager
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger
}

// NewWebSocketHandler accepts upgrades from the listed origins, or from any
// origin when the list is empty.
func NewWebSocketHandler(manager *hub.ConnectionManager, allowedOrigins []string, logger logrus.FieldLogger) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowedOrigins) == 0 || origin == "" || slices.Contains(allowedOrigins, origin)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Handles GET /ws
func (h *WebSocketHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	principal := auth.FromContext(c.Request.Context())
	client, err := h.manager.Connect(conn, principal.Identity())
	if err != nil {
		h.logger.WithError(err).Warn("Error registering WebSocket client")
		conn.Close()
		return
	}

	go func() {
		defer h.manager.Disconnect(client.ID)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
