// Package events provides Sink implementations for the engine and
// scheduler event streams.
package events

import (
	"log/slog"
	"sync"
)

// Event is one emitted analytics event.
type Event struct {
	Name  string
	Props map[string]any
}

// SlogSink logs every emitted event through a structured logger.
type SlogSink struct {
	Logger *slog.Logger
}

// Emit logs the event at debug level. Fire-and-forget by contract.
func (s SlogSink) Emit(name string, props map[string]any) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := make([]any, 0, len(props)*2+2)
	args = append(args, "event", name)
	for k, v := range props {
		args = append(args, k, v)
	}
	logger.Debug("emit", args...)
}

// Capture retains emitted events in memory. Used by tests and the
// simulator to assert on the event stream.
type Capture struct {
	mu     sync.Mutex
	events []Event
}

func (c *Capture) Emit(name string, props map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, Event{Name: name, Props: props})
}

// Events returns a copy of everything captured so far.
func (c *Capture) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Named returns the captured events with the given name.
func (c *Capture) Named(name string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
