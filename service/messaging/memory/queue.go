// Package memory provides the in-memory channel backed messaging queue
// used by the single-process control plane.
package memory

import (
	"fmt"
	"sync"
	"time"

	"context"

	"github.com/inferenceops/fractal/internal/idgen"
	"github.com/inferenceops/fractal/service/messaging"
)

// Config for the in-memory queue.
type Config struct {
	// MaxRetries bounds redelivery attempts after Nack.
	MaxRetries int

	// RetryDelay is how long a nacked message waits before redelivery.
	RetryDelay time.Duration

	// DeadLetter keeps messages that exhausted their retries.
	DeadLetter bool

	// Buffer is the channel capacity.
	Buffer int
}

// DefaultConfig returns a standard in-memory queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
		DeadLetter: true,
		Buffer:     256,
	}
}

// Message implements messaging.Message for the in-memory queue.
type Message[T any] struct {
	id      string
	payload T
	queue   *Queue[T]
	retries int

	mu      sync.Mutex
	settled bool
}

// T returns the message payload.
func (m *Message[T]) T() *T { return &m.payload }

// Ack marks the message as processed.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return fmt.Errorf("message %s already settled", m.id)
	}
	m.settled = true
	return nil
}

// Nack reports a failure. The message is redelivered after the retry delay
// until MaxRetries is exhausted, then optionally dead-lettered.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return fmt.Errorf("message %s already settled", m.id)
	}
	m.settled = true
	m.retries++

	if m.retries <= m.queue.config.MaxRetries {
		retry := &Message[T]{
			id:      m.id,
			payload: m.payload,
			queue:   m.queue,
			retries: m.retries,
		}
		time.AfterFunc(m.queue.config.RetryDelay, func() {
			m.queue.messages <- retry
		})
		return nil
	}
	if m.queue.config.DeadLetter {
		m.queue.mu.Lock()
		m.queue.dlq = append(m.queue.dlq, m)
		m.queue.mu.Unlock()
	}
	return nil
}

// Queue implements an in-memory messaging.Queue.
type Queue[T any] struct {
	config   Config
	messages chan *Message[T]

	mu  sync.Mutex
	dlq []*Message[T]
}

// NewQueue creates an in-memory queue.
func NewQueue[T any](config Config) *Queue[T] {
	if config.Buffer <= 0 {
		config.Buffer = DefaultConfig().Buffer
	}
	return &Queue[T]{
		config:   config,
		messages: make(chan *Message[T], config.Buffer),
	}
}

// Publish adds a new item to the queue.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	msg := &Message[T]{
		id:      idgen.New(),
		payload: *t,
		queue:   q,
	}
	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume retrieves a single item from the queue.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the number of buffered messages.
func (q *Queue[T]) Size() int { return len(q.messages) }

// DLQSize returns the number of dead-lettered messages.
func (q *Queue[T]) DLQSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dlq)
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
