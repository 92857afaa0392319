package handlers

import (
	"anclora/config"
	"anclora/types"
	"anclora/websocket"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	cfg *config.Config
	hub websocket.Hub
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(cfg *config.Config, hub websocket.Hub) *HealthHandler {
	return &HealthHandler{cfg: cfg, hub: hub}
}

// HealthCheck returns the health status of the service
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "anclora",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
	})
}

// APIStatus returns the status of the API
func (h *HealthHandler) APIStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":         "Anclora API is running",
		"upload_location": h.cfg.UploadLocation(),
		"api_endpoint":    h.cfg.API.Endpoint,
		"max_concurrent":  h.cfg.Conversion.MaxConcurrent,
		"history_enabled": h.cfg.Database.URL != "",
		"subscribers":     h.hub.ClientCount(types.TopicAll),
	})
}
