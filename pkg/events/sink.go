package events

import "sync"

// EventSink represents a destination for turn events.
// Implementations can publish events to different backends like watermill,
// logging systems, or other event processing systems.
type EventSink interface {
	// PublishEvent publishes an event to the sink.
	// Returns an error if the event could not be published.
	PublishEvent(event Event) error
}

// NullSink is a no-op EventSink implementation that discards all events.
// Useful for testing or when event publishing is not desired.
type NullSink struct{}

// NewNullSink creates a new NullSink instance.
func NewNullSink() *NullSink {
	return &NullSink{}
}

// PublishEvent discards the event and always returns nil.
func (n *NullSink) PublishEvent(event Event) error {
	return nil
}

var _ EventSink = (*NullSink)(nil)

// CallbackSink invokes a function for each published event. Calls are
// serialized so the callback never has to be safe for concurrent use.
type CallbackSink struct {
	mu sync.Mutex
	fn func(Event) error
}

// NewCallbackSink wraps fn as an EventSink. A nil fn yields a sink that
// discards everything.
func NewCallbackSink(fn func(Event) error) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// PublishEvent invokes the callback with the event.
func (c *CallbackSink) PublishEvent(event Event) error {
	if c.fn == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fn(event)
}

var _ EventSink = (*CallbackSink)(nil)
