// Package cmd defines the scrapegw command line: the gateway and the
// reference agent share one binary.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-gateway/internal/config"
	"github.com/JakeFAU/scrape-gateway/internal/logging"
)

type runtimeKey struct{}

// runtime carries what PersistentPreRunE prepared for the subcommand.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "scrapegw",
		Short: "Gateway in front of a pool of scrape agents.",
		Long: `scrapegw authenticates scrape requests, hands each one to an idle agent
from a fixed pool and relays the agent's answer. A background scheduler
restarts the agents one at a time. The agent subcommand runs a reference
agent implementing the interface the gateway expects.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(serviceName(cmd), cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey{}).(*runtime); ok {
				logging.Sync(rt.logger)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAgentCmd())
	return cmd
}

func serviceName(cmd *cobra.Command) string {
	if cmd.Name() == "agent" {
		return "scrape-agent"
	}
	return "scrape-gateway"
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("command runtime not initialized")
	}
	return rt, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
