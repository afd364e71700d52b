package handlers

import (
	"crypto/rand"
	"errors"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/registry"
	"github.com/parleyhq/parley/internal/storage"
)

const (
	slugLength = 8
	slugChars  = "abcdefghjkmnpqrstuvwxyz23456789" // no ambiguous characters
)

type createRoomRequest struct {
	Title string `json:"title" binding:"required"`
}

type roomResponse struct {
	ID    int64  `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

type messageResponse struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRoom creates a room with a generated slug; the creator becomes the
// first member.
func (a *API) CreateRoom(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	// Slugs are random; retry the rare collision instead of pre-checking.
	for attempt := 0; attempt < 5; attempt++ {
		room, err := a.Store.CreateRoom(c.Request.Context(), generateSlug(), req.Title, userID)
		if errors.Is(err, storage.ErrDuplicate) {
			continue
		}
		if err != nil {
			log.Printf("create room failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
			return
		}
		log.Printf("room %q created by user %d", room.Slug, userID)
		c.JSON(http.StatusCreated, roomResponse{ID: room.ID, Slug: room.Slug, Title: room.Title})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
}

// GetRoom returns one room by slug (public).
func (a *API) GetRoom(c *gin.Context) {
	room, err := a.Store.RoomBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}
	c.JSON(http.StatusOK, roomResponse{ID: room.ID, Slug: room.Slug, Title: room.Title})
}

// JoinRoom records the caller's membership; joining twice is a no-op.
func (a *API) JoinRoom(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	room, err := a.Store.RoomBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	if err := a.Store.AddRoomMember(c.Request.Context(), room.ID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListPeers returns the participants currently connected to the room's
// signaling channel.
func (a *API) ListPeers(c *gin.Context) {
	peers := a.Registry.Members(registry.Signaling, c.Param("slug"))
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

// ListMessages returns the room's recent chat history, oldest first.
func (a *API) ListMessages(c *gin.Context) {
	room, err := a.Store.RoomBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	msgs, err := a.Store.MessagesByRoom(c.Request.Context(), room.ID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:        m.ID,
			RoomID:    m.RoomID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

func generateSlug() string {
	slug := make([]byte, slugLength)
	for i := range slug {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(slugChars))))
		slug[i] = slugChars[n.Int64()]
	}
	return string(slug)
}
