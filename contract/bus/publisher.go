package bus

import "context"

// Publisher abstracts publishing a message to a destination (topic, subject, queue).
// Implementations must be safe for concurrent use by multiple goroutines.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}
