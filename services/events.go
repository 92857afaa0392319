package services

import (
	"anclora/types"
	"errors"
	"time"
)

// EventPublisher receives every state transition of the orchestration layer.
// The websocket hub implements it; the CLI uses a PublisherFunc.
type EventPublisher interface {
	Publish(event types.Event)
}

// PublisherFunc adapts a plain function to EventPublisher
type PublisherFunc func(event types.Event)

// Publish calls f(event)
func (f PublisherFunc) Publish(event types.Event) {
	f(event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(types.Event) {}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func stampEvent(event types.Event) types.Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return event
}

var (
	ErrMissingFile          = errors.New("file is required")
	ErrEmptyFile            = errors.New("file is empty")
	ErrMissingTargetFormat  = errors.New("target format is required")
	ErrNoFiles              = errors.New("at least one file is required")
	ErrFileNotFound         = errors.New("file not found")
	ErrNotRetryable         = errors.New("conversion cannot be retried")
	ErrNotPending           = errors.New("conversion is not pending")
	ErrBatchNotFound        = errors.New("batch not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrActionNotFound       = errors.New("notification action not found")
	ErrActionHasNoHandler   = errors.New("notification action has no handler")
)
