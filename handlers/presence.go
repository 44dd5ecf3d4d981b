package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat8/realtime-service/middleware"
	"chat8/realtime-service/models"
	"chat8/realtime-service/services"
	"chat8/realtime-service/utils"
)

// PresenceHandler exposes the status query surface over HTTP.
type PresenceHandler struct {
	tracker *services.Tracker
	store   services.PresenceStore
	logger  *utils.Logger
}

func NewPresenceHandler(tracker *services.Tracker, store services.PresenceStore, logger *utils.Logger) *PresenceHandler {
	return &PresenceHandler{tracker: tracker, store: store, logger: logger}
}

// GetStatus answers a single-user status query.
func (h *PresenceHandler) GetStatus(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user id"})
		return
	}
	c.JSON(http.StatusOK, h.tracker.GetStatus(c.Request.Context(), userID))
}

// GetContacts answers a batch status query, one row per requested id.
func (h *PresenceHandler) GetContacts(c *gin.Context) {
	raw := c.Query("ids")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing ids parameter"})
		return
	}

	ids := make([]string, 0)
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"contacts": h.tracker.ContactsStatus(c.Request.Context(), ids),
	})
}

// GetOnlineUsers lists every user in the online set.
func (h *PresenceHandler) GetOnlineUsers(c *gin.Context) {
	users, err := h.store.GetOnlineUsers(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list online users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list online users"})
		return
	}

	c.JSON(http.StatusOK, models.OnlineUsersResponse{
		Count: len(users),
		Users: users,
	})
}

// SetStatus applies a manual status change for the authenticated user.
func (h *PresenceHandler) SetStatus(c *gin.Context) {
	var req models.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(middleware.UserIDKey)
	h.tracker.SetStatus(c.Request.Context(), userID, req.Status)
	c.JSON(http.StatusOK, gin.H{"success": true, "status": req.Status})
}

// Heartbeat is the HTTP alternative to the websocket heartbeat frame.
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	h.tracker.Heartbeat(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{
		"status":            "success",
		"next_heartbeat_ms": heartbeatHintMillis,
	})
}
