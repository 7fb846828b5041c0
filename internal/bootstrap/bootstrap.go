// Package bootstrap assembles the receiver and worker pipelines from a Config.
// The binaries under cmd/ only add signal handling and the supervisor tree.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	geofencesrc "github.com/okian/spawnfence/internal/adapters/geofence"
	"github.com/okian/spawnfence/internal/adapters/http/api"
	"github.com/okian/spawnfence/internal/adapters/lock"
	"github.com/okian/spawnfence/internal/adapters/mq/dispatch"
	"github.com/okian/spawnfence/internal/adapters/mq/flusher"
	"github.com/okian/spawnfence/internal/adapters/mq/queue"
	"github.com/okian/spawnfence/internal/adapters/mq/taskqueue"
	"github.com/okian/spawnfence/internal/adapters/mq/worker"
	"github.com/okian/spawnfence/internal/adapters/repository"
	service "github.com/okian/spawnfence/internal/app"
	"github.com/okian/spawnfence/internal/config"
	"github.com/okian/spawnfence/internal/domain/geofence"
	"github.com/okian/spawnfence/pkg/logger"
	"github.com/okian/spawnfence/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Receiver is the ingest side: webhook handler, buffer, dispatcher and the
// background loops that keep them going.
type Receiver struct {
	Resolver   *geofence.Resolver
	Queue      *queue.IngestionQueue
	Dispatcher *dispatch.Dispatcher
	Service    *service.Service
	Flusher    *flusher.Flusher
	Handler    http.Handler
}

// NewReceiver wires the ingest pipeline. source is usually the HTTP geofence
// feed; tests pass a geofence.SourceFunc. The initial geofence load is not
// performed here.
func NewReceiver(ctx context.Context, cfg *config.Config, source geofence.Source, pub message.Publisher) (*Receiver, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil publisher", ErrWiring)
	}
	log := logger.Get()

	resolver := geofence.New(source,
		geofence.WithMaxTries(cfg.GeofenceMaxTries),
		geofence.WithRetryDelay(cfg.GeofenceRetryDelay),
		geofence.WithRetryMultiplier(cfg.GeofenceRetryMultiplier),
		geofence.WithRefreshInterval(cfg.GeofenceRefreshInterval),
	)

	q := queue.NewIngestionQueue(queue.WithMaxSize(cfg.MaxQueueSize))

	d := dispatch.New(pub,
		dispatch.WithTopic(cfg.TaskTopic),
		dispatch.WithMaxRetries(cfg.MaxRetries),
		dispatch.WithRetryDelay(cfg.RetryDelay),
	)

	svc := service.New(resolver, q, d,
		service.WithLogger(log.Named("receiver")),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithDedupeWindow(cfg.DedupeWindow),
	)

	f := flusher.New(q, d, cfg.ExtraFlushWatermark(), flusher.WithInterval(cfg.FlushInterval))

	handler := api.NewServer(svc, svc,
		api.WithAllowWebhookHost(cfg.AllowWebhookHost),
		api.WithLogger(log.Named("api")),
	).Handler(ctx)

	return &Receiver{
		Resolver:   resolver,
		Queue:      q,
		Dispatcher: d,
		Service:    svc,
		Flusher:    f,
		Handler:    handler,
	}, nil
}

// NewGeofenceSource builds the HTTP geofence feed client from cfg.
func NewGeofenceSource(cfg *config.Config) (geofence.Source, error) {
	if cfg.GeofenceURL == "" {
		return nil, fmt.Errorf("%w: geofence_url is empty", ErrWiring)
	}
	return geofencesrc.New(cfg.GeofenceURL,
		geofencesrc.WithBearerToken(cfg.GeofenceBearerToken),
		geofencesrc.WithMaxAreas(cfg.GeofenceMaxAreas),
		geofencesrc.WithTimeout(cfg.GeofenceTimeout),
		geofencesrc.WithBreaker(cfg.GeofenceBreakerFailures, cfg.GeofenceBreakerOpenPeriod),
	), nil
}

// OpenStore opens the configured storage sink.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Get().Warn(ctx, "using in-memory storage; rows are lost on exit")
		return repository.NewMemoryStore(), nil
	case config.StoragePostgres, config.StorageSQLite:
		store, err := repository.Open(ctx, cfg.StorageDriver, cfg.StorageDSN,
			repository.WithMaxInsertRows(cfg.MaxInsertRows))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", ErrWiring, cfg.StorageDriver)
	}
}

// InsertStack is the worker side: store, dedup lock and the consuming router.
type InsertStack struct {
	Router *worker.Router
	Store  repository.Store
	Redis  redis.UniversalClient
}

// NewInsertStack wires the insert worker over an already opened store and
// redis client. Subscriber and poison publisher come from transport.
func NewInsertStack(cfg *config.Config, store repository.Store, client redis.UniversalClient, transport *taskqueue.Transport, wmLogger watermill.LoggerAdapter) (*InsertStack, error) {
	sub, err := transport.Subscriber()
	if err != nil {
		return nil, err
	}
	pub, err := transport.Publisher()
	if err != nil {
		return nil, err
	}

	w := worker.NewInsertWorker(store, lock.New(client, lock.WithTTL(cfg.LockTTL)))
	router, err := worker.NewRouter(worker.RouterConfig{
		Topic:            cfg.TaskTopic,
		FailedTopic:      cfg.FailedTopic,
		MaxRetries:       cfg.MaxRetries,
		RetryDelay:       cfg.RetryDelay,
		MaxRetryInterval: config.MaxRetryInterval,
		CloseTimeout:     cfg.ShutdownTimeout,
	}, w, sub, pub, wmLogger)
	if err != nil {
		return nil, err
	}
	return &InsertStack{Router: router, Store: store, Redis: client}, nil
}

// OpenInsertStack opens storage and redis from cfg and wires the worker.
func OpenInsertStack(ctx context.Context, cfg *config.Config, transport *taskqueue.Transport, wmLogger watermill.LoggerAdapter) (*InsertStack, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client, err := lock.Dial(ctx, cfg.RedisURL)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	stack, err := NewInsertStack(cfg, store, client, transport, wmLogger)
	if err != nil {
		_ = client.Close()
		_ = store.Close()
		return nil, err
	}
	return stack, nil
}

// Close releases the store and the redis client.
func (s *InsertStack) Close() error {
	var firstErr error
	if err := s.Store.Close(); err != nil {
		firstErr = err
	}
	if err := s.Redis.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// NewHTTPServer applies the shared server timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// ConfigureMetrics applies the metric naming and refresh settings of cfg.
func ConfigureMetrics(cfg *config.Config) {
	metrics.Configure(
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithMetricPrefix(cfg.MetricsPrefix),
		metrics.WithCustomLabels(cfg.MetricsLabels),
		metrics.WithHistogramBuckets(cfg.MetricsLatencyBuckets),
		metrics.WithRefreshInterval(cfg.MetricsRefreshInterval),
	)
}

// MetricsHandler serves the worker's /healthz.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	return mux
}
