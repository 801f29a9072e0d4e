package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-gateway/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scrape gateway",
		Long: `Starts the gateway HTTP API on server.port. AGENT_URLS (pool.agent_urls)
lists the agent pool as base|replicas=N entries separated by commas and
API_KEY (auth.api_key) is the secret callers must send; both are required.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	gw, err := server.BuildGateway(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		rt.logger.Error("gateway init failed", zap.Error(err))
		return fmt.Errorf("build gateway: %w", err)
	}
	if err := gw.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run gateway: %w", err)
	}
	return nil
}
