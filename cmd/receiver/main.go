// Command receiver accepts pokemon webhooks, geofences them and hands full
// batches to the task queue.
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
	// We collect our own runtime gauges instead of the default collectors.
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

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	bootstrap.ConfigureMetrics(cfg)
	for _, w := range cfg.Warnings() {
		log.Warn(ctx, "config", logger.String("warning", w))
	}

	source, err := bootstrap.NewGeofenceSource(cfg)
	if err != nil {
		log.Error(ctx, "geofence source", logger.Error(err))
		return 1
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

	pub, err := transport.Publisher()
	if err != nil {
		log.Error(ctx, "task queue publisher", logger.Error(err))
		return 1
	}

	recv, err := bootstrap.NewReceiver(ctx, cfg, source, pub)
	if err != nil {
		log.Error(ctx, "receiver wiring", logger.Error(err))
		return 1
	}

	// Ingestion starts even when the first load fails; events are unmatched
	// until a refresh succeeds.
	recv.Resolver.Start(ctx)

	if err := recv.Service.Start(ctx); err != nil {
		log.Error(ctx, "failed to start receiver", logger.Error(err))
		return 1
	}

	tree := supervisor.NewTree("spawnfence-receiver", logger.Slog(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	tree.AddPipelineService(recv.Resolver)
	tree.AddPipelineService(recv.Flusher)
	tree.AddPipelineService(supervisor.NewSystemMetricsService(metrics.RefreshInterval()))
	tree.AddPipelineService(supervisor.NewTickerService("service-metrics", metrics.RefreshInterval(), func(context.Context) {
		recv.Service.GetStats()
	}))

	// The embedded worker gets its own tree so it outlives the shutdown drain.
	stopWorker := func() {}
	if cfg.RunWorker {
		stack, err := bootstrap.OpenInsertStack(ctx, cfg, transport, wmLogger)
		if err != nil {
			log.Error(ctx, "embedded worker", logger.Error(err))
			return 1
		}
		defer func() { _ = stack.Close() }()

		workerTree := supervisor.NewTree("spawnfence-embedded-worker", logger.Slog(), supervisor.TreeConfig{
			ShutdownTimeout: cfg.ShutdownTimeout,
		})
		workerTree.AddPipelineService(stack.Router)
		workerCtx, cancelWorker := context.WithCancel(context.WithoutCancel(ctx))
		workerDone := workerTree.ServeBackground(workerCtx)
		stopWorker = func() {
			cancelWorker()
			<-workerDone
		}
		log.Info(ctx, "insert worker embedded", logger.String("storage", cfg.StorageDriver))
	}

	srv := bootstrap.NewHTTPServer(cfg.Addr, recv.Handler)
	tree.AddAPIService(supervisor.NewHTTPServerService("webhook-server", srv, cfg.ShutdownTimeout))

	log.Info(ctx, "starting receiver",
		logger.String("addr", cfg.Addr),
		logger.String("task_queue", cfg.TaskQueueDriver),
		logger.Int("max_queue_size", cfg.MaxQueueSize),
		logger.Int("geofences", recv.Resolver.Len()))

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error(ctx, "supervisor stopped", logger.Error(err))
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		log.Warn(context.Background(), "services did not stop in time", logger.Int("count", len(report)))
	}

	// The HTTP server is down; flush what is left before the transport closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	recv.Service.Stop(shutdownCtx)
	stopWorker()

	log.Info(shutdownCtx, "receiver stopped")
	return 0
}
