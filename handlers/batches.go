package handlers

import (
	"anclora/services"
	"net/http"

	"github.com/gin-gonic/gin"
)

// BatchHandler handles batch endpoints
type BatchHandler struct {
	aggregator services.BatchAggregator
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(aggregator services.BatchAggregator) *BatchHandler {
	return &BatchHandler{aggregator: aggregator}
}

// GetAllBatches returns every batch
func (h *BatchHandler) GetAllBatches(c *gin.Context) {
	batches := h.aggregator.GetAllBatches()
	c.JSON(http.StatusOK, gin.H{
		"batches": batches,
		"total":   len(batches),
	})
}

// GetBatch returns one batch with its member files
func (h *BatchHandler) GetBatch(c *gin.Context) {
	batch, exists := h.aggregator.GetBatch(c.Param("id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": services.ErrBatchNotFound.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batch": batch,
	})
}
