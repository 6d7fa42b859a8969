package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/carrotsystems/carrot/internal/app"
	"github.com/carrotsystems/carrot/internal/config"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// NewServeCmd creates the serve command, which runs the CARROT server
// process: the REST API plus every background component (status sweep,
// GitHub trigger poller, watchdog, archiver) until SIGINT/SIGTERM.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the CARROT API server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	ctx := context.Background()

	a, err := app.New(ctx, *cfg, logger)
	if err != nil {
		return fmt.Errorf("constructing application: %w", err)
	}

	return a.Run(ctx)
}

// newLogger builds the process-wide slog logger at the configured default
// level, adapted from the teacher's color-coded terminal output — CARROT
// has no interactive-terminal command (status prints plain text; serve
// logs structured records for an operator's log aggregator).
func newLogger(cfg carrottypes.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.DefaultLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
