package handlers

import (
	"anclora/config"
	"anclora/services"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// SourceHandler serves the uploaded originals of tracked conversions
type SourceHandler struct {
	tracker services.Tracker
	cfg     *config.Config
}

// NewSourceHandler creates a new source handler
func NewSourceHandler(tracker services.Tracker, cfg *config.Config) *SourceHandler {
	return &SourceHandler{tracker: tracker, cfg: cfg}
}

// StreamSource streams the uploaded file, honouring range requests for previews
func (h *SourceHandler) StreamSource(c *gin.Context) {
	file, exists := h.tracker.GetFile(c.Param("id"))
	if !exists || file.File == nil || file.File.Path == "" {
		c.JSON(http.StatusNotFound, gin.H{
			"error": services.ErrFileNotFound.Error(),
		})
		return
	}

	// Security: Ensure the stored path is within an upload location
	if !h.withinUploads(file.File.Path) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "path traversal not allowed",
		})
		return
	}

	f, err := os.Open(file.File.Path)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "source file no longer available",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "file access error",
			"details": err.Error(),
		})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "file access error",
		})
		return
	}

	if file.File.Type != "" {
		c.Header("Content-Type", file.File.Type)
	}
	c.Header("Cache-Control", "private, max-age=3600")
	http.ServeContent(c.Writer, c.Request, file.File.Name, info.ModTime(), f)
}

func (h *SourceHandler) withinUploads(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range []string{h.cfg.UploadLocation(), h.cfg.Conversion.UploadDir} {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
