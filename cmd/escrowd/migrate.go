package main

import (
	"github.com/spf13/cobra"

	"AgentEscrow-Chain/internal/storage/mysql"
	"AgentEscrow-Chain/pkg/logger"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded MySQL schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			db, err := mysql.Open(ctx, mysqlConfig(cfg))
			if err != nil {
				return err
			}
			defer db.Close()
			if err := mysql.Migrate(ctx, db); err != nil {
				return err
			}
			logger.L().Info("migrations applied")
			return nil
		},
	}
}
