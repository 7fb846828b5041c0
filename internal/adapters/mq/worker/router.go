package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/okian/spawnfence/internal/domain/model"
	"github.com/okian/spawnfence/pkg/logger"
	"github.com/okian/spawnfence/pkg/metrics"
)

const (
	handlerName      = "insert-worker"
	maxRetryInterval = 5 * time.Minute
	routerCloseWait  = 30 * time.Second
)

// RouterConfig names the topics and retry policy of the consumer.
type RouterConfig struct {
	Topic            string
	FailedTopic      string
	MaxRetries       int
	RetryDelay       time.Duration
	MaxRetryInterval time.Duration
	CloseTimeout     time.Duration
}

// Router runs the InsertWorker behind watermill's retry and poison-queue
// middleware. Each Serve call builds a fresh watermill router so the
// supervisor can restart it.
type Router struct {
	cfg       RouterConfig
	worker    *InsertWorker
	sub       message.Subscriber
	pub       message.Publisher
	wmLogger  watermill.LoggerAdapter
	logger    logger.Logger
	runningCh chan struct{}
}

// NewRouter wires worker to sub. Poisoned messages are published with pub.
func NewRouter(cfg RouterConfig, worker *InsertWorker, sub message.Subscriber, pub message.Publisher, wmLogger watermill.LoggerAdapter) (*Router, error) {
	if cfg.Topic == "" || cfg.FailedTopic == "" {
		return nil, ErrMissingTopic
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = routerCloseWait
	}
	if cfg.MaxRetryInterval <= 0 {
		cfg.MaxRetryInterval = maxRetryInterval
	}
	if wmLogger == nil {
		wmLogger = watermill.NopLogger{}
	}
	return &Router{
		cfg:       cfg,
		worker:    worker,
		sub:       sub,
		pub:       pub,
		wmLogger:  wmLogger,
		logger:    logger.Get().Named("worker-router"),
		runningCh: make(chan struct{}),
	}, nil
}

// Running is closed once the first router run has subscribed.
func (r *Router) Running() <-chan struct{} { return r.runningCh }

// Serve consumes until ctx is cancelled.
func (r *Router) Serve(ctx context.Context) error {
	router, err := r.build()
	if err != nil {
		return err
	}

	go func() {
		select {
		case <-router.Running():
			r.markRunning()
		case <-ctx.Done():
		}
	}()

	r.logger.Info(ctx, "consuming batches",
		logger.String("topic", r.cfg.Topic),
		logger.String("failed_topic", r.cfg.FailedTopic),
		logger.Int("max_retries", r.cfg.MaxRetries),
		logger.Duration("retry_delay", r.cfg.RetryDelay))

	if err := router.Run(ctx); err != nil {
		return fmt.Errorf("run router: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (r *Router) String() string { return "insert-worker-router" }

func (r *Router) markRunning() {
	select {
	case <-r.runningCh:
	default:
		close(r.runningCh)
	}
}

func (r *Router) build() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: r.cfg.CloseTimeout}, r.wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	poisonAll, err := middleware.PoisonQueue(r.pub, r.cfg.FailedTopic)
	if err != nil {
		return nil, fmt.Errorf("poison queue: %w", err)
	}
	poisonPermanent, err := middleware.PoisonQueueWithFilter(r.pub, r.cfg.FailedTopic, model.IsPermanent)
	if err != nil {
		return nil, fmt.Errorf("poison queue filter: %w", err)
	}

	// Outermost first: permanent failures are poisoned before Retry sees
	// them, and anything Retry gives up on is poisoned on the way out.
	router.AddMiddleware(
		poisonAll,
		r.exhausted,
		middleware.Retry{
			MaxRetries:      r.cfg.MaxRetries,
			InitialInterval: r.cfg.RetryDelay,
			MaxInterval:     r.cfg.MaxRetryInterval,
			Multiplier:      2,
			Logger:          r.wmLogger,
		}.Middleware,
		poisonPermanent,
		middleware.Recoverer,
	)

	router.AddConsumerHandler(handlerName, r.cfg.Topic, r.sub, r.worker.Handle)
	return router, nil
}

// exhausted logs messages that are about to be poisoned after Retry gave up.
func (r *Router) exhausted(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		produced, err := h(msg)
		if err != nil {
			metrics.RecordWorkerOutcome(OutcomePermanentlyFailed)
			metrics.RecordErrorByComponent("worker", "retries_exhausted")
			r.logger.Error(msg.Context(), "batch retries exhausted",
				logger.String("batch_key", msg.UUID),
				logger.Int("max_retries", r.cfg.MaxRetries),
				logger.Error(err))
		}
		return produced, err
	}
}
