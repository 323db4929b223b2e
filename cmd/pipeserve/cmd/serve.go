package cmd

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"pipeserve/internal/app"
	"pipeserve/pkg/config"
	"pipeserve/pkg/logger"
	"pipeserve/pkg/shutdown"
)

func newServeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the server until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	addServerFlags(c)
	return c
}

func runServe(cmd *cobra.Command, _ []string) error {
	// load .env file if present
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	eff, err := config.Load(configFlags(cmd))
	if err != nil {
		return fmt.Errorf("failed to build effective config: %w", err)
	}

	// initialize logger after config is fully loaded
	logger.Init(eff.Config.Logging.Level)
	defer logger.Sync()

	logger.Info("effective_config_loaded", "source", eff.Source, "addr", eff.Addr, "db_path", eff.DBPath)
	logger.Info("system_logical_cores", "logical_cores", runtime.NumCPU())

	a, err := app.New(eff, versionString())
	if err != nil {
		logger.Error("app_init_failed", "error", err)
		return err
	}

	// set up context and signal handling for graceful shutdown
	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)
	if runErr != nil {
		logger.Error("app_run_failed", "error", runErr)
	}

	// bound teardown so it cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.ShutdownBudget())
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return runErr
}
