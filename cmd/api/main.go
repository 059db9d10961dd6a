package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"mailtrack/internal/awsutil"
	"mailtrack/internal/config"
	"mailtrack/internal/httpserver"
	"mailtrack/internal/ledger"
	"mailtrack/internal/logging"
	"mailtrack/internal/observability"
	"mailtrack/internal/pipeline"
	sqsqueue "mailtrack/internal/queue/sqs"
	"mailtrack/internal/service"
	"mailtrack/internal/store/backend"
	"mailtrack/internal/store/pg"
	"mailtrack/internal/worker"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("mailtrack-api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy, err := ledger.ParsePolicy(cfg.CountingPolicy)
	if err != nil {
		slog.Error("api config invalid", "err", err)
		os.Exit(1)
	}

	if cfg.MigrateOnStart && strings.EqualFold(cfg.StoreBackend, "postgres") {
		if err := pg.Migrate(ctx, cfg.DBDSN); err != nil {
			slog.Error("api migrate failed", "err", err)
			os.Exit(1)
		}
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 5*time.Second)
	repo, closeStore, err := backend.Open(startupCtx, cfg.StoreConfig)
	startupCancel()
	if err != nil {
		slog.Error("api store init failed", "backend", cfg.StoreBackend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	observability.Register(prometheus.DefaultRegisterer)

	svc := &service.TrackingService{
		Store:       repo,
		Policy:      policy,
		GracePeriod: cfg.GracePeriod,
		BaseURL:     cfg.PublicBaseURL,
	}

	var sink pipeline.Sink
	var pool *pipeline.Pool
	switch strings.ToLower(cfg.OpenPipeline) {
	case "sqs":
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("api sqs client init failed", "err", err)
			os.Exit(1)
		}
		sink = &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.SQSOpensQueueURL}
	default:
		processor := &worker.Processor{
			Recorder: svc,
			Breaker:  worker.NewBreaker("store", 20*time.Second),
		}
		pool = pipeline.NewPool(cfg.PipelineWorkers, cfg.PipelineBuffer, processor.Process)
		sink = pool
	}
	slog.Info("api open pipeline", "mode", cfg.OpenPipeline, "policy", policy.Name(), "store", cfg.StoreBackend)

	ready := httpserver.Readyz(2*time.Second, repo.Ping)

	s := httpserver.New()
	api := &httpserver.API{
		Svc:               svc,
		RegisterLimiter:   rate.NewLimiter(rate.Limit(cfg.RegisterRPS), cfg.RegisterBurst),
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	}
	api.Register(s.Mux)
	pixel := &httpserver.Pixel{Sink: sink, TrustProxyHeaders: cfg.TrustProxyHeaders}
	pixel.Register(s.Mux)
	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", ready)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           httpserver.NewMetricsMux(ready),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("api metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}

	if pool != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pool.Close(drainCtx); err != nil {
			slog.Warn("api open pipeline drain incomplete", "err", err)
		}
		drainCancel()
	}
}
