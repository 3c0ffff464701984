package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"AgentEscrow-Chain/internal/auth"
	"AgentEscrow-Chain/internal/config"
	"AgentEscrow-Chain/internal/directory"
	"AgentEscrow-Chain/internal/escrow"
	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
	"AgentEscrow-Chain/internal/ledger/evm"
	"AgentEscrow-Chain/internal/observability/alerting"
	"AgentEscrow-Chain/internal/payments"
	"AgentEscrow-Chain/internal/storage/mysql"
	storeredis "AgentEscrow-Chain/internal/storage/redis"
	"AgentEscrow-Chain/internal/validation"
)

// components owns every long-lived resource of the daemon.
type components struct {
	ledger     ledger.Ledger
	chain      *evm.Ledger
	custody    string
	escrow     escrow.Store
	validation validation.Store
	directory  directory.Directory
	queue      payments.Queue
	seen       payments.IdempotencyStore
	alerts     alerting.Dispatcher

	closers []func()
}

func (c *components) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{}
	steps := []func(context.Context, *config.Config) error{
		c.buildLedger,
		c.buildStores,
		c.buildDirectory,
		c.buildPayments,
	}
	for _, step := range steps {
		if err := step(ctx, cfg); err != nil {
			c.Close()
			return nil, err
		}
	}
	c.alerts = buildAlerts(cfg.Alerting)
	return c, nil
}

func (c *components) buildLedger(ctx context.Context, cfg *config.Config) error {
	switch cfg.Ledger.Driver {
	case "memory":
		l := ledger.NewMemoryLedger()
		for account, amount := range cfg.Ledger.Balances {
			l.Credit(account, cfg.Ledger.Symbol, amount)
		}
		l.Open(cfg.Ledger.CustodyAccount)
		c.ledger, c.custody = l, cfg.Ledger.CustodyAccount
		return nil
	case "evm":
		keyHex := cfg.Ledger.CustodyKeyHex
		if keyHex == "" && cfg.Ledger.CustodyKeyEnv != "" {
			keyHex = os.Getenv(cfg.Ledger.CustodyKeyEnv)
		}
		key, err := evm.ParseKey(keyHex)
		if err != nil {
			return err
		}
		evmCfg := evm.Config{Key: key, Symbol: cfg.Ledger.Symbol}
		if cfg.Ledger.ChainID != 0 {
			evmCfg.ChainID = big.NewInt(cfg.Ledger.ChainID)
		}
		chain, err := evm.Dial(ctx, cfg.Ledger.RPCURL, evmCfg)
		if err != nil {
			return err
		}
		c.onClose(chain.Close)
		c.ledger, c.chain, c.custody = chain, chain, chain.Custody()
		return nil
	default:
		return xerrors.Newf(xerrors.CodeInitialization, "unknown ledger driver %q", cfg.Ledger.Driver)
	}
}

func mysqlConfig(cfg *config.Config) mysql.Config {
	return mysql.Config{
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
	}
}

func (c *components) buildStores(ctx context.Context, cfg *config.Config) error {
	switch cfg.Storage.Driver {
	case "memory":
		c.escrow = escrow.NewMemoryStore()
		c.validation = validation.NewMemoryStore()
		return nil
	case "mysql":
		db, err := mysql.Open(ctx, mysqlConfig(cfg))
		if err != nil {
			return err
		}
		c.onClose(func() { _ = db.Close() })
		c.escrow = escrow.NewMySQLStore(db)
		c.validation = validation.NewMySQLStore(db)
		return nil
	default:
		return xerrors.Newf(xerrors.CodeInitialization, "unknown storage driver %q", cfg.Storage.Driver)
	}
}

func (c *components) redis(ctx context.Context, rc config.RedisConfig) (*goredis.Client, error) {
	client, err := storeredis.Open(ctx, storeredis.Config{Address: rc.Address, Password: rc.Password, DB: rc.DB})
	if err != nil {
		return nil, err
	}
	c.onClose(func() { _ = client.Close() })
	return client, nil
}

func (c *components) buildDirectory(ctx context.Context, cfg *config.Config) error {
	dc := cfg.Directory
	var dir directory.Directory
	switch dc.Driver {
	case "static":
		static, err := directory.LoadStatic(dc.SeedFile)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInitialization, err, "load agent directory")
		}
		dir = static
	case "redis":
		client, err := c.redis(ctx, dc.Redis)
		if err != nil {
			return err
		}
		dir = directory.NewRedis(client, dc.KeyPrefix)
	case "postgres":
		pg, err := directory.OpenPostgres(ctx, dc.Postgres)
		if err != nil {
			return err
		}
		c.onClose(pg.Close)
		dir = pg
	default:
		return xerrors.Newf(xerrors.CodeInitialization, "unknown directory driver %q", dc.Driver)
	}
	if dc.CacheTTL > 0 && dc.Driver != "redis" && dc.Redis.Address != "" {
		client, err := c.redis(ctx, dc.Redis)
		if err != nil {
			return err
		}
		dir = directory.NewCached(dir, client, "cache:"+dc.KeyPrefix, dc.CacheTTL)
	}
	c.directory = dir
	return nil
}

func (c *components) buildPayments(ctx context.Context, cfg *config.Config) error {
	pc := cfg.Payments
	switch pc.Queue {
	case "memory":
		c.queue = payments.NewMemoryQueue(1024)
	case "redis":
		client, err := c.redis(ctx, pc.Redis.RedisConfig)
		if err != nil {
			return err
		}
		q, err := payments.NewRedisQueue(client, payments.RedisQueueConfig{Queue: pc.Redis.Queue, BlockWait: pc.Redis.BlockWait})
		if err != nil {
			return err
		}
		c.queue = q
	case "rabbitmq":
		q, err := payments.NewRabbitMQQueue(payments.RabbitMQConfig{
			URL:      pc.RabbitMQ.URL,
			Queue:    pc.RabbitMQ.Queue,
			Prefetch: pc.RabbitMQ.Prefetch,
			Durable:  pc.RabbitMQ.Durable,
		})
		if err != nil {
			return err
		}
		c.onClose(func() { _ = q.Close() })
		c.queue = q
	default:
		return xerrors.Newf(xerrors.CodeInitialization, "unknown payment queue %q", pc.Queue)
	}

	switch pc.Idempotency {
	case "memory":
		c.seen = payments.NewMemoryIdempotency()
	case "redis":
		rc := pc.Redis.RedisConfig
		if rc.Address == "" {
			rc = cfg.Directory.Redis
		}
		client, err := c.redis(ctx, rc)
		if err != nil {
			return err
		}
		c.seen = payments.NewRedisIdempotency(client, "", 0)
	default:
		return xerrors.Newf(xerrors.CodeInitialization, "unknown idempotency store %q", pc.Idempotency)
	}
	return nil
}

func buildAlerts(ac config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if ac.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    ac.WebhookURL,
			Client: &http.Client{Timeout: ac.Timeout},
		})
	}
	return alerting.NewFanout(notifiers...)
}

func authMode(cfg *config.Config) (auth.Mode, error) {
	switch mode := auth.Mode(strings.ToLower(cfg.Server.AuthMode)); mode {
	case auth.ModeSignature:
		return mode, nil
	case auth.ModeTrusted:
		if cfg.Ledger.Driver != "memory" {
			return "", xerrors.New(xerrors.CodeInitialization, "trusted auth mode requires the memory ledger")
		}
		return mode, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q", cfg.Server.AuthMode)
	}
}

func escrowConfig(cfg *config.Config) escrow.Config {
	ec := cfg.Escrow
	return escrow.Config{
		Owner:              ec.Owner,
		DirectoryRef:       ec.DirectoryRef,
		OracleRef:          ec.OracleRef,
		Symbol:             cfg.Ledger.Symbol,
		PlatformFee:        ec.PlatformFee,
		MinJobAmount:       ec.MinJobAmount,
		DefaultDeadline:    ec.DefaultDeadline,
		DisputeWindow:      ec.DisputeWindow,
		AcceptanceTimeout:  ec.AcceptanceTimeout,
		MinArbitratorStake: ec.MinArbitratorStake,
	}
}

func validationConfig(cfg *config.Config) validation.Config {
	vc := cfg.Validation
	return validation.Config{
		Owner:                  vc.Owner,
		DirectoryRef:           vc.DirectoryRef,
		Symbol:                 vc.Symbol,
		MinStake:               vc.MinStake,
		ChallengeStake:         vc.ChallengeStake,
		UnstakeDelay:           vc.UnstakeDelay,
		ChallengeWindow:        vc.ChallengeWindow,
		FundingPeriod:          vc.FundingPeriod,
		SlashPercent:           vc.SlashPercent,
		SlashRecipient:         validation.SlashRecipient(vc.SlashRecipient),
		DisputePeriod:          vc.DisputePeriod,
		FundedChallengeTimeout: vc.FundedChallengeTimeout,
		ValidationFee:          vc.ValidationFee,
	}
}
