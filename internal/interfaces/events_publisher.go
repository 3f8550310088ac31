package interfaces

// EventPublisher delivers domain events to interested consumers. Publishing
// is fire-and-forget: matching and settlement never depend on it succeeding.
type EventPublisher interface {
	Publish(topic string, event any) error
}
