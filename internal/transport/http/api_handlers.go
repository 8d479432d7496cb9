package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/core"
)

// APIHandlers provides read-only HTTP handlers over the hub state.
type APIHandlers struct {
	hub      *core.Hub
	sessions *Sessions
	log      *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, sessions *Sessions, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub:      hub,
		sessions: sessions,
		log:      logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatsResponse extends hub counters with transport counters.
type StatsResponse struct {
	core.HubStats
	WSSessions int `json:"ws_sessions"`
}

// ListRooms returns every room with its members, sorted by name.
// GET /api/rooms
func (h *APIHandlers) ListRooms(c *gin.Context) {
	rooms := h.hub.Rooms()
	if rooms == nil {
		rooms = []core.RoomInfo{}
	}
	c.JSON(http.StatusOK, rooms)
}

// GetRoom returns a single room.
// GET /api/rooms/:room
func (h *APIHandlers) GetRoom(c *gin.Context) {
	name := c.Param("room")
	room, ok := h.hub.Room(name)
	if !ok {
		h.log.Debug().Str("room", name).Msg("room not found")
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// Stats returns runtime counters.
// GET /api/stats
func (h *APIHandlers) Stats(c *gin.Context) {
	resp := StatsResponse{HubStats: h.hub.Stats()}
	if h.sessions != nil {
		resp.WSSessions = h.sessions.Len()
	}
	c.JSON(http.StatusOK, resp)
}
