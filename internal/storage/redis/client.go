// Package redis builds the go-redis clients shared by the directory cache,
// the payment queue and the idempotency store.
package redis

import (
	"context"
	"strings"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"

	goredis "github.com/redis/go-redis/v9"
)

// Config describes a Redis endpoint.
type Config struct {
	Address  string
	Password string
	DB       int
}

// Open connects and pings the server.
func Open(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address is empty")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "connect to Redis")
	}
	return client, nil
}
