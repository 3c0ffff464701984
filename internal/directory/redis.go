package directory

import (
	"context"
	"errors"
	"strconv"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"

	"github.com/redis/go-redis/v9"
)

const (
	fieldActive = "active"
	fieldName   = "name"
)

// Redis reads agents from hashes named <prefix><account>.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "agent:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(account string) string {
	return r.prefix + normalize(account)
}

// GetAgent implements Directory.
func (r *Redis) GetAgent(ctx context.Context, account string) (Agent, error) {
	values, err := r.client.HMGet(ctx, r.key(account), fieldActive, fieldName).Result()
	if err != nil {
		return Agent{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read agent from redis", xerrors.WithRetryable(true))
	}
	if len(values) == 0 || values[0] == nil {
		return Agent{}, notFound(account)
	}
	agent := Agent{Account: account, Active: parseBool(values[0])}
	if len(values) > 1 && values[1] != nil {
		agent.Name, _ = values[1].(string)
	}
	return agent, nil
}

// Put writes the agent hash.
func (r *Redis) Put(ctx context.Context, agent Agent) error {
	err := r.client.HSet(ctx, r.key(agent.Account), fieldActive, strconv.FormatBool(agent.Active), fieldName, agent.Name).Err()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "write agent to redis")
	}
	return nil
}

func parseBool(v any) bool {
	s, _ := v.(string)
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

// Cached is a read-through cache in front of another directory. Only found
// agents are cached so that a fresh registration is visible immediately.
type Cached struct {
	next   Directory
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewCached wraps next with a Redis cache.
func NewCached(next Directory, client redis.UniversalClient, prefix string, ttl time.Duration) *Cached {
	if prefix == "" {
		prefix = "agent:cache:"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{next: next, client: client, prefix: prefix, ttl: ttl}
}

// GetAgent implements Directory.
func (c *Cached) GetAgent(ctx context.Context, account string) (Agent, error) {
	key := c.prefix + normalize(account)
	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return Agent{Account: account, Active: cached == "1"}, nil
	case !errors.Is(err, redis.Nil):
		// cache outage degrades to the backing directory
		return c.next.GetAgent(ctx, account)
	}

	agent, err := c.next.GetAgent(ctx, account)
	if err != nil {
		return Agent{}, err
	}
	flag := "0"
	if agent.Active {
		flag = "1"
	}
	_ = c.client.Set(ctx, key, flag, c.ttl).Err()
	return agent, nil
}

// Invalidate drops the cached entry for account.
func (c *Cached) Invalidate(ctx context.Context, account string) error {
	return c.client.Del(ctx, c.prefix+normalize(account)).Err()
}
