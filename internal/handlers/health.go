package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ICEServers hands clients the configured STUN/TURN servers.
func ICEServers(servers []webrtc.ICEServer) gin.HandlerFunc {
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	}
}
