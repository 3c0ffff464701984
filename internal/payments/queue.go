package payments

import (
	"context"
)

// Handler processes one payment taken from a queue. A returned error asks the
// queue to redeliver when it supports redelivery.
type Handler func(ctx context.Context, p Payment) error

// Producer enqueues payments.
type Producer interface {
	Publish(ctx context.Context, p Payment) error
	Close() error
}

// Consumer drains payments into a handler.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue is both ends of a payment queue.
type Queue interface {
	Producer
	Consumer
}
