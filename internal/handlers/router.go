package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-mesh/internal/hub"
	"github.com/mossy-p/webrtc-mesh/internal/middleware"
)

// Deps is everything the HTTP surface needs. History may be nil when
// persistence is disabled.
type Deps struct {
	Hub            *hub.Hub
	History        ChatHistory
	ICEServers     []webrtc.ICEServer
	AllowedOrigins []string
	JWTSecret      string
	Logger         *slog.Logger
}

// NewRouter mounts the signaling socket and the HTTP API.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(d.AllowedOrigins))

	router.GET("/health", Health)
	router.GET("/ws", HandleSignaling(d.Hub, d.Logger))

	api := router.Group("/api")
	{
		// Login endpoint (public)
		api.POST("/auth/login", Login(d.JWTSecret, d.Logger))

		api.GET("/ice-servers", ICEServers(d.ICEServers))

		// Room listing is admin only
		api.GET("/rooms", middleware.JWTAuth(d.JWTSecret), ListRooms(d.Hub, d.Logger))

		api.GET("/rooms/:roomId", GetRoom(d.Hub, d.Logger))
		api.GET("/rooms/:roomId/messages", RoomMessages(d.History, d.Logger))
	}

	return router
}
