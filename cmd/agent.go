package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scrape-gateway/internal/server"
)

func newAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run a reference scrape agent",
		Long: `Starts a scrape agent on agent.port serving GET /is-busy, POST /scrape,
POST /scrape-js and DELETE /shutdown. The process exits after a shutdown
request; run it under a supervisor that restarts it.`,
		RunE: runAgent,
	}
}

func runAgent(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	a, err := server.BuildAgent(rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}
	if err := a.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run agent: %w", err)
	}
	return nil
}
