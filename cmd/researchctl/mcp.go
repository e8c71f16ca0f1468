package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/mcpserver"
)

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the research tools over MCP on stdin/stdout",
		Long: `Starts an MCP server exposing research_plan, research_start,
research_status, research_report and research_citations. Research started
through the server runs in this process and is lost when it exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Shutdown(context.Background()) }()

			c.logger.Info("Serving MCP over stdio", zap.String("version", version))
			return mcpserver.Serve(cmd.Context(), mcpserver.New(svc.Orchestrator(), version, c.logger))
		},
	}
}
