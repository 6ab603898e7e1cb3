// Package messaging defines the queue abstraction used to hand admitted
// work from the admission side to the dispatcher workers.
package messaging

import "context"

// Queue is an abstract message queue for any payload type.
type Queue[T any] interface {
	// Publish adds a new message with the payload to the queue.
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single message, blocking until one is
	// available or the context is cancelled.
	Consume(ctx context.Context) (Message[T], error)
}

// Message is a unit retrieved from a queue. Consumers must settle it with
// Ack or Nack exactly once.
type Message[T any] interface {
	// T returns the payload of this message.
	T() *T

	// Ack acknowledges successful processing.
	Ack() error

	// Nack reports a processing failure; the implementation may retry or
	// dead-letter the message.
	Nack(err error) error
}
