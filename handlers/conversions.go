package handlers

import (
	"anclora/config"
	"anclora/services"
	"anclora/types"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ConversionHandler handles conversion management endpoints
type ConversionHandler struct {
	ctx        context.Context
	tracker    services.Tracker
	aggregator services.BatchAggregator
	inspector  services.Inspector
	cfg        *config.Config
}

// NewConversionHandler creates a new conversion handler. Conversions started
// from requests run under ctx, not the request context.
func NewConversionHandler(ctx context.Context, tracker services.Tracker, aggregator services.BatchAggregator, inspector services.Inspector, cfg *config.Config) *ConversionHandler {
	return &ConversionHandler{
		ctx:        ctx,
		tracker:    tracker,
		aggregator: aggregator,
		inspector:  inspector,
		cfg:        cfg,
	}
}

// CreateConversion accepts one or more uploaded files. A single file becomes a
// standalone conversion, several files become a batch.
func (h *ConversionHandler) CreateConversion(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes())

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid multipart form",
			"details": err.Error(),
		})
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": services.ErrNoFiles.Error(),
		})
		return
	}

	targetFormat := c.PostForm("targetFormat")
	if targetFormat == "" {
		if settings, err := config.LoadSettings(h.cfg.SettingsPath); err == nil {
			targetFormat = settings.DefaultTargetFormat
		}
	}

	var opts types.ConversionOptions
	if raw := c.PostForm("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid options",
				"details": err.Error(),
			})
			return
		}
	}

	sources := make([]*types.SourceFile, 0, len(headers))
	for _, header := range headers {
		source, err := h.storeUpload(c, header)
		if err != nil {
			removeUploads(sources)
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   fmt.Sprintf("Invalid file %s", header.Filename),
				"details": err.Error(),
			})
			return
		}
		sources = append(sources, source)
	}

	if len(sources) == 1 {
		id, err := h.tracker.Submit(sources[0], targetFormat, opts, "")
		if err != nil {
			removeUploads(sources)
			respondError(c, err)
			return
		}
		go h.run(id)

		file, _ := h.tracker.GetFile(id)
		c.JSON(http.StatusAccepted, gin.H{
			"message": "Conversion queued successfully",
			"file":    file,
		})
		return
	}

	batchID, err := h.aggregator.ConvertBatch(sources, targetFormat, opts)
	if err != nil {
		removeUploads(sources)
		respondError(c, err)
		return
	}

	batch, _ := h.aggregator.GetBatch(batchID)
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Batch conversion queued successfully",
		"batch":   batch,
	})
}

func (h *ConversionHandler) run(id string) {
	if _, err := h.tracker.Run(h.ctx, id); err != nil && errors.Is(err, services.ErrNotPending) {
		log.Printf("Conversion %s was not pending when started", id)
	}
}

// storeUpload saves one uploaded part in the upload location and inspects it
func (h *ConversionHandler) storeUpload(c *gin.Context, header *multipart.FileHeader) (*types.SourceFile, error) {
	if err := h.inspector.ValidateFileName(header.Filename); err != nil {
		return nil, err
	}

	dir := h.cfg.UploadLocation()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	dst := filepath.Join(dir, uuid.New().String()+"-"+header.Filename)
	if err := c.SaveUploadedFile(header, dst); err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}

	source, err := h.inspector.Inspect(dst, header.Filename)
	if err != nil {
		os.Remove(dst)
		return nil, err
	}
	return source, nil
}

func removeUploads(sources []*types.SourceFile) {
	for _, source := range sources {
		if source != nil && source.Path != "" {
			os.Remove(source.Path)
		}
	}
}

// GetAllConversions returns every tracked file
func (h *ConversionHandler) GetAllConversions(c *gin.Context) {
	files := h.tracker.GetAllFiles()
	c.JSON(http.StatusOK, gin.H{
		"files": files,
		"total": len(files),
	})
}

// GetConversion returns a specific tracked file by ID
func (h *ConversionHandler) GetConversion(c *gin.Context) {
	file, exists := h.tracker.GetFile(c.Param("id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": services.ErrFileNotFound.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"file": file,
	})
}

// RetryConversion restarts a failed conversion in the background
func (h *ConversionHandler) RetryConversion(c *gin.Context) {
	id := c.Param("id")
	file, exists := h.tracker.GetFile(id)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": services.ErrFileNotFound.Error(),
		})
		return
	}
	if file.Status != types.FileStatusFailed || file.Error == nil || !file.Error.CanRetry {
		c.JSON(http.StatusConflict, gin.H{
			"error": services.ErrNotRetryable.Error(),
		})
		return
	}

	go func() {
		if _, err := h.tracker.RetryConversion(h.ctx, id); errors.Is(err, services.ErrNotRetryable) {
			log.Printf("Retry of conversion %s rejected: %v", id, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Conversion retry queued",
		"id":      id,
	})
}

// CancelConversion asks the conversion API to stop a processing file
func (h *ConversionHandler) CancelConversion(c *gin.Context) {
	id := c.Param("id")
	if _, exists := h.tracker.GetFile(id); !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": services.ErrFileNotFound.Error(),
		})
		return
	}

	if !h.tracker.CancelConversion(c.Request.Context(), id) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "conversion cannot be cancelled (not processing, already finishing, or refused)",
		})
		return
	}

	file, _ := h.tracker.GetFile(id)
	c.JSON(http.StatusOK, gin.H{
		"message": "Conversion cancelled successfully",
		"file":    file,
	})
}

// RemoveConversion forgets a file whatever its state
func (h *ConversionHandler) RemoveConversion(c *gin.Context) {
	id := c.Param("id")
	file, exists := h.tracker.GetFile(id)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": services.ErrFileNotFound.Error(),
		})
		return
	}

	h.tracker.RemoveFile(id)
	removeUploads([]*types.SourceFile{file.File})

	c.JSON(http.StatusOK, gin.H{
		"message": "Conversion removed",
	})
}

// ClearConversions removes finished files; only status=completed is supported
func (h *ConversionHandler) ClearConversions(c *gin.Context) {
	if status := c.DefaultQuery("status", string(types.FileStatusCompleted)); status != string(types.FileStatusCompleted) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("clearing %q conversions is not supported", status),
		})
		return
	}

	var completed []*types.SourceFile
	for _, file := range h.tracker.GetAllFiles() {
		if file.Status == types.FileStatusCompleted {
			completed = append(completed, file.File)
		}
	}

	h.tracker.ClearCompleted()
	removeUploads(completed)

	c.JSON(http.StatusOK, gin.H{
		"message": "Completed conversions cleared",
		"cleared": len(completed),
	})
}

// respondError maps orchestration errors onto HTTP status codes
func respondError(c *gin.Context, err error) {
	var convErr *types.ConversionError
	if errors.As(err, &convErr) && convErr.Code == types.ErrorCodeValidation {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     convErr.Message,
			"errorCode": convErr.Code,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrFileNotFound), errors.Is(err, services.ErrBatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Conversion request failed",
			"details": err.Error(),
		})
	}
}
