// Package events provides publisher helpers shared by the concrete
// transports.
package events

// Noop discards every event. Used when no broker is configured and in
// tests.
type Noop struct{}

func (Noop) Publish(topic string, event any) error { return nil }
