package inproc

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"reminder-service/internal/domain/entity"
	"reminder-service/internal/domain/service"
)

// ErrClosed is returned by a closed bus
var ErrClosed = errors.New("bus closed")

// Bus is an in-process, buffered, single-queue bus. A single queue keeps
// global publish order, which includes per-key order.
type Bus struct {
	queue  chan *service.Delivery
	done   chan struct{}
	closer sync.Once
}

// NewBus creates a bus that buffers up to size undelivered events
func NewBus(size int) *Bus {
	if size <= 0 {
		size = 1
	}
	return &Bus{
		queue: make(chan *service.Delivery, size),
		done:  make(chan struct{}),
	}
}

// Publish enqueues a copy of the event, blocking while the buffer is full
func (b *Bus) Publish(ctx context.Context, key string, event *entity.FireEvent) error {
	copied := *event
	copied.Buttons = append([]entity.Button(nil), event.Buttons...)

	d := &service.Delivery{
		ID:    uuid.New().String(),
		Key:   key,
		Event: &copied,
		Ack:   func(context.Context) error { return nil },
	}

	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.queue <- d:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch returns the next event in publish order
func (b *Bus) Fetch(ctx context.Context) (*service.Delivery, error) {
	select {
	case d := <-b.queue:
		return d, nil
	case <-b.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of buffered events
func (b *Bus) Len() int {
	return len(b.queue)
}

// Close stops the bus. Buffered events are discarded.
func (b *Bus) Close() error {
	b.closer.Do(func() { close(b.done) })
	return nil
}
