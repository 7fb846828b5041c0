// Package dispatch publishes batches to the task queue with bounded retries.
package dispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"github.com/okian/spawnfence/internal/domain/model"
	"github.com/okian/spawnfence/pkg/logger"
	"github.com/okian/spawnfence/pkg/metrics"
)

const (
	defaultTopic      = "sightings_batches"
	defaultMaxRetries = 5
	defaultRetryDelay = time.Second

	// MetadataBatchSize carries the item count so consumers can log it
	// before decoding.
	MetadataBatchSize = "batch_size"
)

// Dispatcher turns queue items into batches and publishes them. It never
// looks inside the items.
type Dispatcher struct {
	publisher  message.Publisher
	topic      string
	maxRetries int
	retryDelay time.Duration
	logger     logger.Logger
}

// New creates a dispatcher publishing through pub.
func New(pub message.Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		publisher:  pub,
		topic:      defaultTopic,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		logger:     logger.Get().Named("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch builds a batch over items and publishes it. Failed publishes are
// retried up to maxRetries more times, waiting retryDelay*attempt between
// tries. When every attempt fails the batch is lost: a *model.SubmitError is
// returned and nothing is put back on the queue.
func (d *Dispatcher) Dispatch(ctx context.Context, items []model.QueueItem) (model.Batch, error) {
	if len(items) == 0 {
		return model.Batch{}, ErrEmptyBatch
	}

	batch := model.NewBatch(items)
	payload, err := model.EncodeBatch(batch)
	if err != nil {
		return batch, &model.SubmitError{BatchKey: batch.Key, Err: err}
	}

	attempts := 0
	op := func() error {
		attempts++
		msg := message.NewMessage(batch.Key, payload)
		msg.Metadata.Set(MetadataBatchSize, strconv.Itoa(len(items)))
		msg.SetContext(ctx)
		return d.publisher.Publish(d.topic, msg)
	}
	notify := func(err error, wait time.Duration) {
		metrics.RecordDispatchRetry()
		d.logger.Warn(ctx, "batch submission failed, retrying",
			logger.String("batch_key", batch.Key),
			logger.Int("attempt", attempts),
			logger.Duration("wait", wait),
			logger.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{step: d.retryDelay}, uint64(d.maxRetries)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		metrics.RecordBatchLost(len(items))
		metrics.RecordErrorByComponent("dispatch", "submit")
		d.logger.Error(ctx, "batch lost after exhausting retries",
			logger.String("batch_key", batch.Key),
			logger.Int("items", len(items)),
			logger.Int("attempts", attempts),
			logger.Error(err))
		return batch, &model.SubmitError{BatchKey: batch.Key, Attempts: attempts, Err: err}
	}

	metrics.RecordBatchPublished(len(items))
	d.logger.Debug(ctx, "batch submitted",
		logger.String("batch_key", batch.Key),
		logger.Int("items", len(items)),
		logger.Int("attempts", attempts))
	return batch, nil
}

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.step * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }
