package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chat8/realtime-service/models"
	"chat8/realtime-service/services"
	"chat8/realtime-service/utils"
)

// AdminHandler carries operator-facing endpoints.
type AdminHandler struct {
	registry *services.Registry
	logger   *utils.Logger
}

func NewAdminHandler(registry *services.Registry, logger *utils.Logger) *AdminHandler {
	return &AdminHandler{registry: registry, logger: logger}
}

// Broadcast pushes an announcement to every live connection, best effort.
func (h *AdminHandler) Broadcast(c *gin.Context) {
	var req models.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	frame, err := json.Marshal(models.BroadcastFrame{
		Type:      models.FrameBroadcast,
		Payload:   req.Payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode broadcast"})
		return
	}

	h.registry.Broadcast(frame)
	h.logger.Info("broadcast sent", "bytes", len(frame))
	c.JSON(http.StatusOK, gin.H{"success": true})
}
