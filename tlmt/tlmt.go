// Package tlmt sends anonymous usage events. It is disabled entirely by the
// opt-out flag or a missing API key; nothing identifying the machine beyond
// a random persisted id ever leaves the process.
package tlmt

import "context"

// Event is one usage signal.
type Event struct {
	Name       string
	Properties map[string]any
}

func NewEvent(name string, properties map[string]any) Event {
	return Event{
		Name:       name,
		Properties: properties,
	}
}

// Telemetry delivers events somewhere, or nowhere.
type Telemetry interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

// New returns posthog-backed telemetry, or the no-op sink when disabled or
// no API key is configured.
func New(apiKey string, disabled bool) Telemetry {
	if disabled || apiKey == "" {
		return NewNoop()
	}

	t, err := NewPosthog(apiKey)
	if err != nil {
		return NewNoop()
	}

	return t
}

type noop struct{}

// NewNoop returns a Telemetry that drops every event.
func NewNoop() Telemetry {
	return noop{}
}

func (noop) Send(_ context.Context, _ Event) error {
	return nil
}

func (noop) Close() error {
	return nil
}
