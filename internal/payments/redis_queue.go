package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig names the list used as queue.
type RedisQueueConfig struct {
	Queue     string
	BlockWait time.Duration
}

// RedisQueue is a Redis list queue: LPUSH to publish, BRPOP to consume.
type RedisQueue struct {
	client redis.UniversalClient
	queue  string
	wait   time.Duration
}

// NewRedisQueue uses an already connected client.
func NewRedisQueue(client redis.UniversalClient, cfg RedisQueueConfig) (*RedisQueue, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "Redis client is nil")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "escrow:payments"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}, nil
}

// Publish pushes p onto the list.
func (q *RedisQueue) Publish(ctx context.Context, p Payment) error {
	body, err := encode(p)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.queue, body).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "publish payment to Redis")
	}
	return nil
}

// Consume pops payments with BRPOP. A retryable handler failure pushes the
// payment back to the tail so it is taken next.
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- xerrors.Wrap(xerrors.CodeQueueFailure, err, "pop payment from Redis")
					return
				}
				if len(values) != 2 {
					continue
				}
				p, err := decode([]byte(values[1]))
				if err != nil {
					logger.L().Error("dropping malformed payment", slog.Any("error", err), slog.String("queue", q.queue))
					continue
				}
				if handlerErr := handler(ctx, p); handlerErr != nil && xerrors.RetryableError(handlerErr) {
					_ = q.client.RPush(ctx, q.queue, values[1]).Err()
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close releases the client.
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
