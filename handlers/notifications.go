package handlers

import (
	"anclora/services"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// NotificationHandler handles notification endpoints
type NotificationHandler struct {
	notifier services.Notifier
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notifier services.Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: notifier}
}

// GetNotifications returns the active notifications
func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	notifications := h.notifier.GetNotifications()
	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"total":         len(notifications),
	})
}

// GetHistory returns recently created notifications, oldest first
func (h *NotificationHandler) GetHistory(c *gin.Context) {
	history := h.notifier.History()
	c.JSON(http.StatusOK, gin.H{
		"notifications": history,
		"total":         len(history),
	})
}

// CloseNotification dismisses a notification; unknown ids are a no-op
func (h *NotificationHandler) CloseNotification(c *gin.Context) {
	h.notifier.CloseNotification(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{
		"message": "Notification closed",
	})
}

// TriggerAction runs the handler of one notification action
func (h *NotificationHandler) TriggerAction(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid action index",
			"details": err.Error(),
		})
		return
	}

	err = h.notifier.TriggerAction(c.Param("id"), index)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"message": "Action triggered",
		})
	case errors.Is(err, services.ErrNotificationNotFound), errors.Is(err, services.ErrActionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrActionHasNoHandler):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to trigger action",
			"details": err.Error(),
		})
	}
}
