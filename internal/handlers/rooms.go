package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// RoomDirectory answers room snapshot queries. The hub implements it.
type RoomDirectory interface {
	Rooms(ctx context.Context) ([]models.RoomInfo, error)
	Room(ctx context.Context, roomID string) (models.RoomInfo, bool, error)
}

// ChatHistory returns recent chat messages of a room, oldest first.
type ChatHistory interface {
	Messages(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error)
}

// ListRooms returns every active room with its member count.
func ListRooms(rooms RoomDirectory, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := rooms.Rooms(c.Request.Context())
		if err != nil {
			logger.Error("failed to list rooms", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Rooms unavailable"})
			return
		}
		if list == nil {
			list = []models.RoomInfo{}
		}
		c.JSON(http.StatusOK, gin.H{"rooms": list, "count": len(list)})
	}
}

// GetRoom returns one room including its members.
func GetRoom(rooms RoomDirectory, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		info, ok, err := rooms.Room(c.Request.Context(), roomID)
		if err != nil {
			logger.Error("failed to load room", "room_id", roomID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Rooms unavailable"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// RoomMessages returns recent chat history. With no history store the list
// is always empty.
func RoomMessages(history ChatHistory, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		messages := []models.ChatMessage{}
		if history != nil {
			stored, err := history.Messages(c.Request.Context(), roomID, limit)
			if err != nil {
				logger.Warn("failed to load chat history", "room_id", roomID, "error", err)
			} else if stored != nil {
				messages = stored
			}
		}
		c.JSON(http.StatusOK, gin.H{"roomId": roomID, "messages": messages})
	}
}
