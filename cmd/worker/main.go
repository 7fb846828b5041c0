// Command worker consumes sighting batches from the task queue and inserts
// each batch at most once.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/spawnfence/internal/adapters/mq/taskqueue"
	"github.com/okian/spawnfence/internal/bootstrap"
	"github.com/okian/spawnfence/internal/config"
	"github.com/okian/spawnfence/internal/supervisor"
	"github.com/okian/spawnfence/pkg/logger"
	"github.com/okian/spawnfence/pkg/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if cfg.TaskQueueDriver == config.TaskQueueMemory {
		// The memory transport only connects goroutines of one process.
		log.Error(ctx, "the worker needs a shared task queue; run the receiver with run_worker instead")
		return 1
	}

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	bootstrap.ConfigureMetrics(cfg)
	for _, w := range cfg.Warnings() {
		log.Warn(ctx, "config", logger.String("warning", w))
	}

	wmLogger := taskqueue.NewLogger()
	transport, err := taskqueue.New(cfg, wmLogger)
	if err != nil {
		log.Error(ctx, "task queue", logger.Error(err))
		return 1
	}
	defer func() {
		if err := transport.Close(); err != nil {
			log.Error(context.Background(), "task queue close failed", logger.Error(err))
		}
	}()

	stack, err := bootstrap.OpenInsertStack(ctx, cfg, transport, wmLogger)
	if err != nil {
		log.Error(ctx, "insert worker", logger.Error(err))
		return 1
	}
	defer func() {
		if err := stack.Close(); err != nil {
			log.Error(context.Background(), "insert worker close failed", logger.Error(err))
		}
	}()

	tree := supervisor.NewTree("spawnfence-worker", logger.Slog(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	tree.AddPipelineService(stack.Router)
	tree.AddPipelineService(supervisor.NewSystemMetricsService(metrics.RefreshInterval()))
	if cfg.MetricsAddr != "" {
		srv := bootstrap.NewHTTPServer(cfg.MetricsAddr, bootstrap.MetricsHandler())
		tree.AddAPIService(supervisor.NewHTTPServerService("metrics-server", srv, cfg.ShutdownTimeout))
	}

	log.Info(ctx, "starting insert worker",
		logger.String("nats_url", cfg.NATSURL),
		logger.String("topic", cfg.TaskTopic),
		logger.String("storage", cfg.StorageDriver),
		logger.Int("workers", cfg.WorkerCount))

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error(ctx, "supervisor stopped", logger.Error(err))
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		log.Warn(context.Background(), "services did not stop in time", logger.Int("count", len(report)))
	}

	log.Info(context.Background(), "insert worker stopped")
	return 0
}
