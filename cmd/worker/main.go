package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nurturingai/leadnurture/internal/adapters/poller"
	"github.com/nurturingai/leadnurture/internal/bootstrap"
	"github.com/nurturingai/leadnurture/internal/config"
	"github.com/nurturingai/leadnurture/internal/observability/logging"
	"github.com/nurturingai/leadnurture/internal/observability/metrics"
)

func main() {
	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		slog.Error("dotenv_load_failed", "error", err)
		os.Exit(1)
	}
	cfg := config.Load()
	logging.Install(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, workerMetrics)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsMux(workerMetrics),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		slog.Info("worker_subscribed", "subject", cfg.NATSBrochureSubject)
		return app.Queue.SubscribeBrochureUploaded(gctx, func(handlerCtx context.Context, brochureID string) error {
			if brochure, err := app.Brochures.GetByID(handlerCtx, brochureID); err == nil {
				workerMetrics.ObserveQueueLag(time.Since(brochure.CreatedAt))
			}
			processCtx, cancel := context.WithTimeout(handlerCtx, 5*time.Minute)
			defer cancel()

			workerMetrics.StartBrochure()
			start := time.Now()
			err := app.ProcessUC.ProcessByID(processCtx, brochureID)
			workerMetrics.FinishBrochure(time.Since(start), err)
			return err
		})
	})

	if app.Correlator != nil {
		replyPoller, err := poller.New(app.Correlator, cfg.ReplyPollSchedule, cfg.ReplyLookbackDays, workerMetrics)
		if err != nil {
			slog.Error("poller_init_failed", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			return replyPoller.Run(gctx)
		})
		g.Go(func() error {
			slog.Info("worker_subscribed", "subject", cfg.NATSReplyCheckSubject)
			return app.Queue.SubscribeReplyCheck(gctx, replyPoller.HandleTrigger)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("worker_stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("worker_stopped")
}

func metricsMux(workerMetrics *metrics.WorkerMetrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", workerMetrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}
