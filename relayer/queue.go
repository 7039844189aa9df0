package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handler processes one queued payload.
type Handler func(ctx context.Context, payload []byte) error

// Producer publishes payloads.
type Producer interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Consumer runs handlers over queued payloads until ctx ends. A payload whose
// handler fails is dropped, not redelivered.
type Consumer interface {
	Consume(ctx context.Context, workers int, handler Handler) error
	Close() error
}

// Queue is both ends of a submission queue.
type Queue interface {
	Producer
	Consumer
}

// QueueConfig selects and configures a queue driver.
type QueueConfig struct {
	Driver   string
	Size     int
	Redis    RedisQueueConfig
	RabbitMQ RabbitMQConfig
}

// OpenQueue builds the queue named by cfg.Driver: "memory" (default),
// "redis" or "rabbitmq".
func OpenQueue(ctx context.Context, cfg QueueConfig) (Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryQueue(cfg.Size), nil
	case "redis":
		return NewRedisQueue(ctx, cfg.Redis)
	case "rabbitmq":
		return NewRabbitMQQueue(cfg.RabbitMQ)
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

var errQueueClosed = errors.New("queue closed")

// MemoryQueue is a buffered channel queue for a single process.
type MemoryQueue struct {
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue returns a queue holding up to size payloads.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan []byte, size), done: make(chan struct{})}
}

// Publish implements Producer. It blocks while the queue is full, until ctx
// ends or the queue is closed.
func (q *MemoryQueue) Publish(ctx context.Context, payload []byte) error {
	select {
	case <-q.done:
		return errQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errQueueClosed
	case q.ch <- append([]byte(nil), payload...):
		return nil
	}
}

// Consume implements Consumer. It returns nil once the queue is closed.
func (q *MemoryQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case payload := <-q.ch:
					_ = handler(ctx, payload)
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
	case <-q.done:
	}
	wg.Wait()
	return ctx.Err()
}

// Close implements Producer and Consumer. Blocked publishers and consumers
// return.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	return nil
}
