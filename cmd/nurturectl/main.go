package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nurturingai/leadnurture/internal/bootstrap"
	"github.com/nurturingai/leadnurture/internal/config"
	"github.com/nurturingai/leadnurture/internal/observability/logging"
)

func main() {
	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		fmt.Fprintf(os.Stderr, "load env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
	logging.Install(logging.New(os.Stderr, "nurturectl", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := &commands{
		cfg:    cfg,
		stdout: os.Stdout,
		stderr: os.Stderr,
		open: func(ctx context.Context) (services, func(), error) {
			app, err := bootstrap.New(ctx, cfg, nil)
			if err != nil {
				return services{}, nil, err
			}
			return services{
				Agent:      app.Agent,
				Ingest:     app.IngestUC,
				Process:    app.ProcessUC,
				Replies:    app.Replies,
				Correlator: app.Correlator,
				Leads:      app.Leads,
				Campaigns:  app.Campaigns,
			}, app.Close, nil
		},
	}
	if err := cli.run(ctx, os.Args[1:]); err != nil {
		slog.Error("command_failed", "error", err)
		os.Exit(1)
	}
}
