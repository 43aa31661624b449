package handlers

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mossy-p/webrtc-meet/internal/middleware"
	"github.com/mossy-p/webrtc-meet/internal/models"
	"github.com/mossy-p/webrtc-meet/internal/registry"
	"github.com/mossy-p/webrtc-meet/internal/relay"
	"github.com/mossy-p/webrtc-meet/internal/store"
)

const (
	defaultMaxParticipants = 8
	codeChars              = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// CreateRoom reserves a room with a shareable code (requires authentication)
func CreateRoom(s store.Store, reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req models.CreateRoomRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if req.MaxParticipants == 0 {
			req.MaxParticipants = defaultMaxParticipants
		}

		room := &models.RoomMetadata{
			ID:              uuid.New().String(),
			Code:            generateRoomCode(),
			CreatorID:       userID,
			CreatedAt:       time.Now().UTC(),
			MaxParticipants: req.MaxParticipants,
		}

		if err := s.StoreRoom(c.Request.Context(), room); err != nil {
			slog.Error("failed to store room", "room", room.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
			return
		}

		// Reserved rooms exist in the registry so the idle sweep can reclaim
		// ones nobody joins.
		reg.Ensure(room.ID)

		slog.Info("room reserved", "room", room.ID, "code", room.Code, "creator", userID)

		c.JSON(http.StatusCreated, models.CreateRoomResponse{
			RoomID: room.ID,
			Code:   room.Code,
		})
	}
}

// GetRoom returns reservation metadata by code or ID (public)
func GetRoom(s store.Store, reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		roomID, err := store.Resolve(ctx, s, c.Param("roomId"))
		if err != nil {
			slog.Error("failed to resolve room", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
			return
		}

		room, err := s.LoadRoom(ctx, roomID)
		if errors.Is(err, store.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		if err != nil {
			slog.Error("failed to load room", "room", roomID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
			return
		}

		room.ParticipantCount = participantCount(ctx, s, reg, roomID)
		c.JSON(http.StatusOK, room)
	}
}

// DeleteRoom drops a reservation and disconnects its members (requires
// authentication and creator)
func DeleteRoom(s store.Store, hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		ctx := c.Request.Context()
		roomID, err := store.Resolve(ctx, s, c.Param("roomId"))
		if err != nil {
			slog.Error("failed to resolve room", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
			return
		}

		room, err := s.LoadRoom(ctx, roomID)
		if errors.Is(err, store.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		if err != nil {
			slog.Error("failed to load room", "room", roomID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
			return
		}

		if room.CreatorID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
			return
		}

		if err := s.DeleteRoom(ctx, roomID); err != nil {
			slog.Error("failed to delete room", "room", roomID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
			return
		}

		evicted := hub.RemoveRoom(ctx, roomID, "room was deleted")
		slog.Info("room deleted", "room", roomID, "user", userID, "disconnected", evicted)

		c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
	}
}

// NewRoom redirects to a freshly generated room URL
func NewRoom(c *gin.Context) {
	c.Redirect(http.StatusFound, "/room/"+uuid.New().String())
}

// RoomInfo reports the live participant count of a room by code or ID
func RoomInfo(s store.Store, reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		roomID, err := store.Resolve(ctx, s, c.Param("room"))
		if err != nil {
			slog.Warn("failed to resolve room", "error", err)
			roomID = c.Param("room")
		}

		c.JSON(http.StatusOK, models.RoomInfo{
			Room:             roomID,
			ParticipantCount: participantCount(ctx, s, reg, roomID),
		})
	}
}

// participantCount prefers the presence mirror, which also counts members
// connected to other servers sharing the store, and falls back to the local
// registry when the mirror is behind or unreachable.
func participantCount(ctx context.Context, s store.Store, reg *registry.Registry, roomID string) int {
	local := reg.Count(roomID)
	mirrored, err := s.PeerCount(ctx, roomID)
	if err != nil {
		slog.Warn("presence lookup failed", "room", roomID, "error", err)
		return local
	}
	return max(local, mirrored)
}

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, store.CodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}
