package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/server"
)

// cli carries the global flags and the lazily built service.
type cli struct {
	configPath string
	verbose    bool

	logger *zap.Logger
	cfg    *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "researchctl",
		Short: "Plan and run multi-source research from the command line",
		Long: `researchctl drives the research pipeline locally:

  plan   break a query into prioritized sub-questions
  run    research a query end to end and print the report
  mcp    serve the research tools over MCP on stdin/stdout

Configuration is read from --config (or CONFIG_PATH) and RESEARCH_* variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $CONFIG_PATH or "+config.DefaultConfigPath+")")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log pipeline progress at debug level")

	root.AddCommand(newPlanCmd(c), newRunCmd(c), newMCPCmd(c))
	return root
}

// init builds the logger and loads configuration. Logs go to stderr so that
// stdout carries only command output (or the MCP stream).
func (c *cli) init() error {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if c.verbose {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zcfg.OutputPaths = []string{"stderr"}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger

	cfg, err := config.NewLoader(c.configPath, logger).Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func (c *cli) service(cmd *cobra.Command) (*server.ResearchService, error) {
	return server.NewResearchService(cmd.Context(), c.cfg, c.logger)
}
