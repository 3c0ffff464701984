package payments

import (
	"context"
	"sync"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers which payments were already settled.
type IdempotencyStore interface {
	// Claim marks id as in flight and reports false if it was seen before.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	// Release forgets id so a redelivery is processed again.
	Release(ctx context.Context, id uuid.UUID) error
}

// MemoryIdempotency keeps claimed ids in process memory.
type MemoryIdempotency struct {
	mu   sync.Mutex
	seen map[uuid.UUID]struct{}
}

// NewMemoryIdempotency returns an empty store.
func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{seen: make(map[uuid.UUID]struct{})}
}

// Claim implements IdempotencyStore.
func (m *MemoryIdempotency) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[id]; ok {
		return false, nil
	}
	m.seen[id] = struct{}{}
	return true, nil
}

// Release implements IdempotencyStore.
func (m *MemoryIdempotency) Release(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	return nil
}

// RedisIdempotency claims ids with SETNX so several processors can share a
// queue.
type RedisIdempotency struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotency stores claims under prefix+id for ttl. A zero ttl keeps
// them forever.
func NewRedisIdempotency(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisIdempotency {
	if prefix == "" {
		prefix = "escrow:payment:"
	}
	return &RedisIdempotency{client: client, prefix: prefix, ttl: ttl}
}

// Claim implements IdempotencyStore.
func (r *RedisIdempotency) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+id.String(), time.Now().UTC().Unix(), r.ttl).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "claim payment id")
	}
	return ok, nil
}

// Release implements IdempotencyStore.
func (r *RedisIdempotency) Release(ctx context.Context, id uuid.UUID) error {
	if err := r.client.Del(ctx, r.prefix+id.String()).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "release payment id")
	}
	return nil
}
