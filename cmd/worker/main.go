package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"mailtrack/internal/awsutil"
	"mailtrack/internal/config"
	"mailtrack/internal/domain"
	"mailtrack/internal/httpserver"
	"mailtrack/internal/ledger"
	"mailtrack/internal/logging"
	"mailtrack/internal/observability"
	sqsqueue "mailtrack/internal/queue/sqs"
	"mailtrack/internal/service"
	"mailtrack/internal/store/backend"
	workerproc "mailtrack/internal/worker"
)

func main() {
	cfg := config.LoadWorker()
	logging.Init("mailtrack-worker", cfg.LogFormat, cfg.LogLevel)

	// Use a root ctx we can cancel
	ctx, cancel := context.WithCancel(context.Background())

	policy, err := ledger.ParsePolicy(cfg.CountingPolicy)
	if err != nil {
		slog.Error("worker config invalid", "err", err)
		os.Exit(1)
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 5*time.Second)
	defer startupCancel()

	repo, closeStore, err := backend.Open(startupCtx, cfg.StoreConfig)
	if err != nil {
		slog.Error("worker store init failed", "backend", cfg.StoreBackend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("worker sqs client init failed", "err", err)
		os.Exit(1)
	}
	queueReachable := func(c context.Context) error {
		_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
			QueueUrl:       &cfg.SQSOpensQueueURL,
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		})
		return err
	}
	if err := queueReachable(startupCtx); err != nil {
		slog.Error("sqs not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	consumer := &sqsqueue.Consumer{
		SQS: sqsClient, QueueURL: cfg.SQSOpensQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}

	// health server (liveness + readiness) on the metrics port
	healthSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           httpserver.Logging(httpserver.NewMetricsMux(httpserver.Readyz(2*time.Second, repo.Ping, queueReachable))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker health listening", "port", cfg.MetricsPort)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	svc := &service.TrackingService{
		Store:       repo,
		Policy:      policy,
		GracePeriod: cfg.GracePeriod,
	}
	processor := &workerproc.Processor{
		Recorder: svc,
		Breaker:  workerproc.NewBreaker("store", 20*time.Second),
	}
	if cfg.StoreRPS > 0 {
		processor.Limiter = rate.NewLimiter(rate.Limit(cfg.StoreRPS), cfg.StoreBurst)
	}

	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker starting poll", "queue_url", cfg.SQSOpensQueueURL, "policy", policy.Name())
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.WorkerConcurrency, func(ctx context.Context, job domain.OpenJob) (err error) {
			start := time.Now()
			defer func() {
				if err != nil {
					slog.Info("worker job finish",
						"tracking_id", job.TrackingID,
						"status", "error",
						"duration", time.Since(start),
						"err", err,
					)
				} else {
					slog.Debug("worker job finish",
						"tracking_id", job.TrackingID,
						"status", "ok",
						"duration", time.Since(start),
					)
				}
			}()
			return processor.Process(ctx, job)
		})
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("worker poll failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("worker health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("worker shutdown timeout waiting for poll loop")
	}
}
