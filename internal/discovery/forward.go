package discovery

import "github.com/muurk/mdnsdiscover/internal/pubsub"

// Notification is the payload of a forwarded registry event. Only the field
// matching the event type is set.
type Notification struct {
	Key     string `json:"key,omitempty"`
	Running bool   `json:"running"`
	Message string `json:"message,omitempty"`
}

// Forward republishes every registry event on broker. Slow subscribers miss
// events rather than stall the registry. The returned function detaches the
// forwarding handlers.
func Forward(reg *Registry, broker *pubsub.Broker[Notification]) (unsubscribe func()) {
	offs := []func(){
		reg.OnStateChanged(func(running bool) {
			broker.Publish(pubsub.StateChangedEvent, Notification{Running: running})
		}),
		reg.OnPublished(func(key string) {
			broker.Publish(pubsub.PublishedEvent, Notification{Key: key})
		}),
		reg.OnUnpublished(func(key string) {
			broker.Publish(pubsub.UnpublishedEvent, Notification{Key: key})
		}),
		reg.OnError(func(message string) {
			broker.Publish(pubsub.ErrorEvent, Notification{Message: message})
		}),
	}

	return func() {
		for _, off := range offs {
			off()
		}
	}
}
