package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"AgentEscrow-Chain/internal/api"
	"AgentEscrow-Chain/internal/auth"
	"AgentEscrow-Chain/internal/config"
	"AgentEscrow-Chain/internal/escrow"
	"AgentEscrow-Chain/internal/ledger/evm"
	"AgentEscrow-Chain/internal/memo"
	"AgentEscrow-Chain/internal/observability/metrics"
	"AgentEscrow-Chain/internal/payments"
	"AgentEscrow-Chain/internal/storage/mysql"
	"AgentEscrow-Chain/internal/validation"
	"AgentEscrow-Chain/pkg/logger"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the settlement API, payment processor and ledger watcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			migrate, err := cmd.Flags().GetBool("migrate")
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply MySQL migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	log := logger.Named("escrowd")

	mode, err := authMode(cfg)
	if err != nil {
		return err
	}
	if migrate && cfg.Storage.Driver == "mysql" {
		db, err := mysql.Open(ctx, mysqlConfig(cfg))
		if err != nil {
			return err
		}
		err = mysql.Migrate(ctx, db)
		_ = db.Close()
		if err != nil {
			return err
		}
	}

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	m := metrics.New()
	escrowEngine := escrow.NewEngine(c.escrow, c.ledger, c.directory, c.custody,
		escrow.WithRecorder(m),
		escrow.WithAlertDispatcher(c.alerts),
	)
	validationEngine := validation.NewEngine(c.validation, c.ledger, c.directory, c.custody,
		validation.WithRecorder(m),
		validation.WithAlertDispatcher(c.alerts),
	)
	if _, err := escrowEngine.Bootstrap(ctx, escrowConfig(cfg)); err != nil {
		return err
	}
	if _, err := validationEngine.Bootstrap(ctx, validationConfig(cfg)); err != nil {
		return err
	}

	router := memo.NewRouter()
	escrowEngine.RegisterRoutes(router)
	validationEngine.RegisterRoutes(router)
	processor := payments.NewProcessor(router, c.ledger, c.custody,
		payments.WithQueue(c.queue),
		payments.WithIdempotencyStore(c.seen),
		payments.WithWorkerCount(cfg.Payments.Workers),
		payments.WithRecorder(m),
		payments.WithAlertDispatcher(c.alerts),
	)

	serverOpts := []api.Option{
		api.WithAuth(auth.MiddlewareConfig{Mode: mode, MaxClockSkew: cfg.Server.MaxClockSkew}),
	}
	if cfg.Ledger.Driver == "memory" {
		serverOpts = append(serverOpts, api.WithPayments(processor))
	}
	if cfg.Server.MetricsAddress == "" {
		serverOpts = append(serverOpts, api.WithMetrics(m))
	}
	server := api.NewServer(cfg.Server.Address, escrowEngine, validationEngine, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return processor.Start(gctx) })
	if cfg.Server.MetricsAddress != "" {
		g.Go(func() error { return m.StartServer(gctx, cfg.Server.MetricsAddress) })
	}
	if c.chain != nil {
		watchOpts := []evm.WatcherOption{evm.WithPollInterval(cfg.Ledger.PollInterval)}
		if cfg.Ledger.StartBlock > 0 {
			watchOpts = append(watchOpts, evm.WithStartBlock(cfg.Ledger.StartBlock))
		}
		watcher := evm.NewWatcher(c.chain, processor.Deposit, watchOpts...)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	log.Info("escrowd started",
		"address", cfg.Server.Address,
		"ledger", cfg.Ledger.Driver,
		"storage", cfg.Storage.Driver,
		"custody", c.custody,
		"auth_mode", string(mode),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("escrowd stopped")
	return nil
}
