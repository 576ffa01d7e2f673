package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/server"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/paths"
)

var dev bool

func main() {
	root := &cobra.Command{
		Use:           "server [port] [appDir]",
		Short:         "Out-of-process extension host",
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().BoolVar(&dev, "dev", false, "console logs at debug level")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if len(args) > 1 {
		cfg.Paths.RootDir = args[1]
	}
	if err := config.LoadFile(cfg, paths.New(cfg.Paths.RootDir).Config()); err != nil {
		return err
	}

	port := cfg.Server.Port
	if len(args) > 0 {
		port = parsePort(args[0])
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	ctrl, err := server.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := ctrl.Start(port); err != nil {
		ctrl.Stop()
		return err
	}
	logger.Info("Extension host running", zap.Int("port", ctrl.Port()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
		return ctrl.Stop()
	case <-ctrl.Done():
		return nil
	}
}

// parsePort reads the positional port; anything unusable selects a free port.
func parsePort(arg string) int {
	port, err := strconv.Atoi(arg)
	if err != nil || port < 0 || port > 65535 {
		return 0
	}
	return port
}

func newLogger(cfg *config.Config) *logging.Logger {
	if dev || cfg.Logging.Development {
		return logging.NewDevelopment()
	}
	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level})
	if err != nil {
		return logging.NewDefault()
	}
	return logger
}

