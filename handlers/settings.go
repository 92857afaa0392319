package handlers

import (
	"anclora/config"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// SettingsHandler reads and writes the user's saved preferences
type SettingsHandler struct {
	cfg *config.Config
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{cfg: cfg}
}

// ensureWritableDir creates dir when missing and checks uploads can be written to it
func ensureWritableDir(dir string) error {
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	probe, err := os.CreateTemp(dir, ".anclora-probe-*")
	if err != nil {
		return err
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// GetSettings returns the saved settings with the effective upload location filled in
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := config.LoadSettings(h.cfg.SettingsPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load settings",
			"details": err.Error(),
		})
		return
	}
	if settings.UploadLocation == "" {
		settings.UploadLocation = h.cfg.UploadLocation()
	}

	c.JSON(http.StatusOK, settings)
}

// UpdateSettings replaces the saved settings. An empty upload location falls
// back to the configured upload directory.
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var update config.UserSettings
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid settings format",
			"details": err.Error(),
		})
		return
	}

	if update.UploadLocation != "" {
		if err := ensureWritableDir(update.UploadLocation); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid upload location",
				"details": err.Error(),
			})
			return
		}
	}

	if err := config.SaveSettings(h.cfg.SettingsPath, &update); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to save settings",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Settings updated successfully",
		"settings": update,
	})
}
