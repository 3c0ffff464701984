// Command escrowd runs the agent marketplace settlement service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"AgentEscrow-Chain/internal/config"
	"AgentEscrow-Chain/pkg/logger"
)

const defaultConfigPath = "configs/escrowd.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "escrowd",
		Short: "Escrow and validator staking settlement engine",
		Long: `escrowd settles agent marketplace jobs: clients fund escrowed jobs,
agents are paid on delivery or per milestone, disputes are arbitrated, and
validators stake on their attestations under challenge and slashing rules.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML); defaults to $ESCROWD_CONFIG or "+defaultConfigPath)
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

// loadConfig resolves the config path from the flag or the environment and
// initialises logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		path = os.Getenv("ESCROWD_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}
