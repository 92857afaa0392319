package types

import "time"

// EventType identifies what changed
type EventType string

const (
	EventFileUpdated         EventType = "file.updated"
	EventFilesRemoved        EventType = "file.removed"
	EventBatchUpdated        EventType = "batch.updated"
	EventBatchRemoved        EventType = "batch.removed"
	EventNotificationCreated EventType = "notification.created"
	EventNotificationUpdated EventType = "notification.updated"
	EventNotificationClosed  EventType = "notification.closed"
	EventSnapshot            EventType = "snapshot"
)

// Topic names used to route events to subscribers
const (
	TopicAll           = "all"
	TopicNotifications = "notifications"
)

// Event is an immutable snapshot of a state transition pushed to subscribers
type Event struct {
	Type          EventType               `json:"type"`
	FileID        string                  `json:"fileId,omitempty"`
	BatchID       string                  `json:"batchId,omitempty"`
	File          *FileConversionStatus   `json:"file,omitempty"`
	Files         []FileConversionStatus  `json:"files,omitempty"`
	Batch         *BatchConversionStatus  `json:"batch,omitempty"`
	Batches       []BatchConversionStatus `json:"batches,omitempty"`
	Notification  *Notification           `json:"notification,omitempty"`
	Notifications []Notification          `json:"notifications,omitempty"`
	RemovedIDs    []string                `json:"removedIds,omitempty"`
	Timestamp     time.Time               `json:"timestamp"`
}

// Topics returns every topic the event should be delivered to
func (e Event) Topics() []string {
	topics := []string{TopicAll}
	if e.FileID != "" {
		topics = append(topics, e.FileID)
	}
	for _, id := range e.RemovedIDs {
		if id != e.FileID {
			topics = append(topics, id)
		}
	}
	if e.BatchID != "" {
		topics = append(topics, e.BatchID)
	}
	if e.Notification != nil || e.Type == EventNotificationClosed {
		topics = append(topics, TopicNotifications)
	}
	return topics
}
