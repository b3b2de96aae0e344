package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/webrtc-mesh/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleSignaling upgrades the request and attaches the socket to h. Room
// membership is negotiated over the socket with join-room.
func HandleSignaling(h *hub.Hub, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", "error", err)
			return
		}

		client := hub.NewClient(h, conn)
		if !h.Register(client) {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			conn.Close()
			return
		}

		logger.Debug("socket connected", "socket_id", client.ID, "remote", c.ClientIP())
		go client.WritePump()
		go client.ReadPump()
	}
}
