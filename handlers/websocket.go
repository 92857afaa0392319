package handlers

import (
	"anclora/services"
	"anclora/types"
	"anclora/websocket"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// StreamHandler serves the WebSocket update streams
type StreamHandler struct {
	tracker    services.Tracker
	aggregator services.BatchAggregator
	notifier   services.Notifier
	hub        websocket.Hub
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(tracker services.Tracker, aggregator services.BatchAggregator, notifier services.Notifier, hub websocket.Hub) *StreamHandler {
	return &StreamHandler{
		tracker:    tracker,
		aggregator: aggregator,
		notifier:   notifier,
		hub:        hub,
	}
}

// HandleAll streams every update, starting with the full current state
func (h *StreamHandler) HandleAll(c *gin.Context) {
	h.subscribe(c, types.TopicAll, func() types.Event {
		return types.Event{
			Type:          types.EventSnapshot,
			Files:         h.tracker.GetAllFiles(),
			Batches:       h.aggregator.GetAllBatches(),
			Notifications: h.notifier.GetNotifications(),
		}
	})
}

// HandleConversion streams updates for one file
func (h *StreamHandler) HandleConversion(c *gin.Context) {
	id := c.Param("id")
	if _, exists := h.tracker.GetFile(id); !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrFileNotFound.Error()})
		return
	}

	h.subscribe(c, id, func() types.Event {
		event := types.Event{Type: types.EventSnapshot, FileID: id}
		if file, exists := h.tracker.GetFile(id); exists {
			event.BatchID = file.BatchID
			event.File = &file
		} else {
			event.RemovedIDs = []string{id}
		}
		return event
	})
}

// HandleBatch streams updates for one batch and its members
func (h *StreamHandler) HandleBatch(c *gin.Context) {
	id := c.Param("id")
	if _, exists := h.aggregator.GetBatch(id); !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrBatchNotFound.Error()})
		return
	}

	h.subscribe(c, id, func() types.Event {
		event := types.Event{Type: types.EventSnapshot, BatchID: id}
		if batch, exists := h.aggregator.GetBatch(id); exists {
			event.Batch = &batch
			event.Files = batch.Files
		}
		return event
	})
}

// HandleNotifications streams notification changes
func (h *StreamHandler) HandleNotifications(c *gin.Context) {
	h.subscribe(c, types.TopicNotifications, func() types.Event {
		return types.Event{
			Type:          types.EventSnapshot,
			Notifications: h.notifier.GetNotifications(),
		}
	})
}

// subscribe upgrades the connection and registers the client. The hub reads
// the snapshot while registering, so no later update is missed.
func (h *StreamHandler) subscribe(c *gin.Context, topic string, snapshot func() types.Event) {
	upgrader := websocket.GetUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := websocket.NewClient(h.hub, conn, topic)
	h.hub.RegisterClient(client, snapshot)

	client.StartPumps()
}
