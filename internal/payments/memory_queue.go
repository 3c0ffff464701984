package payments

import (
	"context"
	"sync"

	xerrors "AgentEscrow-Chain/internal/errors"
)

// MemoryQueue is a channel-backed queue for tests and single-process setups.
type MemoryQueue struct {
	ch     chan Payment
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue creates a queue buffering up to size payments.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Payment, size)}
}

// Publish enqueues p, blocking while the buffer is full.
func (q *MemoryQueue) Publish(ctx context.Context, p Payment) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "payment queue closed")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- p:
		return nil
	}
}

// Consume runs workerCount workers until ctx is cancelled. Failed payments are
// not redelivered.
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case p, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, p)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close stops accepting payments.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
