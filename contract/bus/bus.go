package bus

// Transport is the minimal, tech-agnostic message bus the broker runs on.
// Any adapter that can publish keyed messages to a named destination and
// subscribe to a named destination satisfies it (Kafka, NATS, RabbitMQ, in-memory, etc.).
//
// Adapters must deliver messages of a single destination in order to a subscription,
// one at a time. No ordering is assumed across destinations.
type Transport interface {
	Publisher
	Subscriber

	// Close releases the underlying connection(s). Subscriptions stop receiving.
	Close() error
}
