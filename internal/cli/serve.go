package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxd/voxd/internal/config"
	"github.com/voxd/voxd/internal/orchestrator"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	printHeader("voxd orchestrator")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	o, err := orchestrator.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Init error: %v\n", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()
		o.Shutdown(shutdownCtx)
		cancel()
	}()

	fmt.Printf("Listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Working directory: %s\n", cfg.Paths.WorkingDirectory)

	if err := o.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return err
	}
	return nil
}
