// Package pubsub fans the discovery event protocol out to asynchronous
// consumers such as the terminal UI and WebSocket clients.
package pubsub

import (
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	StateChangedEvent EventType = "state_changed"
	PublishedEvent    EventType = "published"
	UnpublishedEvent  EventType = "unpublished"
	ErrorEvent        EventType = "error"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}
