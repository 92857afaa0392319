package handlers

import (
	"anclora/database"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// HistoryHandler serves the persisted conversion history
type HistoryHandler struct {
	store database.Store
}

// NewHistoryHandler creates a new history handler. store may be nil when no
// database is configured.
func NewHistoryHandler(store database.Store) *HistoryHandler {
	return &HistoryHandler{store: store}
}

func (h *HistoryHandler) available(c *gin.Context) bool {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "conversion history is not configured",
		})
		return false
	}
	return true
}

// GetHistory returns the most recent finished conversions
func (h *HistoryHandler) GetHistory(c *gin.Context) {
	if !h.available(c) {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid limit",
			"details": err.Error(),
		})
		return
	}

	entries, err := h.store.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load history",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

// GetSummary returns usage totals
func (h *HistoryHandler) GetSummary(c *gin.Context) {
	if !h.available(c) {
		return
	}

	summary, err := h.store.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load usage summary",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}
