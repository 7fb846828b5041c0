// Package worker consumes batches from the task queue and stores them exactly
// once per dedup window.
package worker

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/okian/spawnfence/internal/domain/model"
	"github.com/okian/spawnfence/pkg/logger"
	"github.com/okian/spawnfence/pkg/metrics"
)

// Outcomes of one batch attempt, as logged and counted.
const (
	OutcomeInserted          = "inserted"
	OutcomeDuplicateSkipped  = "duplicate_skipped"
	OutcomeRetryScheduled    = "retry_scheduled"
	OutcomePermanentlyFailed = "permanently_failed"
)

// Inserter stores a batch atomically.
type Inserter interface {
	InsertSightings(ctx context.Context, rows []model.Sighting) (int, error)
}

// Locker is the dedup lock and completion marker.
type Locker interface {
	Acquire(ctx context.Context, batchKey string) (token string, ok bool, err error)
	Release(ctx context.Context, batchKey, token string) error
	MarkDone(ctx context.Context, batchKey string) error
	IsDone(ctx context.Context, batchKey string) (bool, error)
}

// InsertWorker handles one batch message at a time. It is safe for
// concurrent use by several subscriber goroutines.
type InsertWorker struct {
	store  Inserter
	lock   Locker
	name   string
	active atomic.Int64
	logger logger.Logger
}

// NewInsertWorker creates a worker writing to store under lock.
func NewInsertWorker(store Inserter, lock Locker, opts ...Option) *InsertWorker {
	w := &InsertWorker{
		store:  store,
		lock:   lock,
		name:   "insert-worker",
		logger: logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle is the watermill handler. A nil return acks the message; an error
// is retried or poisoned by the router middleware.
func (w *InsertWorker) Handle(msg *message.Message) error {
	ctx := msg.Context()
	batch, err := model.DecodeBatch(msg.Payload)
	if err != nil {
		metrics.RecordWorkerOutcome(OutcomePermanentlyFailed)
		w.logger.Error(ctx, "undecodable batch",
			logger.String("message_uuid", msg.UUID),
			logger.Error(err))
		return err
	}
	_, err = w.Process(ctx, batch)
	return err
}

// Process runs the lock protocol for batch and reports what happened.
func (w *InsertWorker) Process(ctx context.Context, batch model.Batch) (string, error) {
	metrics.UpdateWorkerActiveCount(int(w.active.Add(1)))
	defer func() { metrics.UpdateWorkerActiveCount(int(w.active.Add(-1))) }()

	fields := []logger.Field{
		logger.String("batch_key", batch.Key),
		logger.Int("items", len(batch.Items)),
	}
	w.logger.Debug(ctx, "batch received", fields...)

	token, ok, err := w.lock.Acquire(ctx, batch.Key)
	if err != nil {
		return w.retry(ctx, err, fields)
	}
	if !ok {
		return w.skip(ctx, "lock held by another worker", fields)
	}
	w.logger.Debug(ctx, "batch locked", fields...)
	defer func() {
		// Release even if the message context was cancelled mid-insert.
		if err := w.lock.Release(context.WithoutCancel(ctx), batch.Key, token); err != nil {
			w.logger.Warn(ctx, "lock release failed, it will expire", append(fields, logger.Error(err))...)
			return
		}
		w.logger.Debug(ctx, "lock released", fields...)
	}()

	// The marker is read only under the lock.
	done, err := w.lock.IsDone(ctx, batch.Key)
	if err != nil {
		return w.retry(ctx, err, fields)
	}
	if done {
		return w.skip(ctx, "completion marker present", fields)
	}

	n, err := w.store.InsertSightings(ctx, batch.Sightings())
	if err != nil {
		if model.IsPermanent(err) {
			metrics.RecordWorkerOutcome(OutcomePermanentlyFailed)
			w.logger.Error(ctx, "batch permanently failed", append(fields, logger.Error(err))...)
			return OutcomePermanentlyFailed, err
		}
		return w.retry(ctx, err, fields)
	}

	if err := w.lock.MarkDone(context.WithoutCancel(ctx), batch.Key); err != nil {
		// Rows are committed; a redelivery inside the lock TTL may duplicate them.
		w.logger.Warn(ctx, "completion marker not written", append(fields, logger.Error(err))...)
	}
	metrics.RecordWorkerOutcome(OutcomeInserted)
	w.logger.Info(ctx, "batch inserted", append(fields, logger.Int("rows", n))...)
	return OutcomeInserted, nil
}

func (w *InsertWorker) skip(ctx context.Context, reason string, fields []logger.Field) (string, error) {
	metrics.RecordWorkerOutcome(OutcomeDuplicateSkipped)
	w.logger.Debug(ctx, "duplicate batch skipped", append(fields, logger.String("reason", reason))...)
	return OutcomeDuplicateSkipped, nil
}

func (w *InsertWorker) retry(ctx context.Context, err error, fields []logger.Field) (string, error) {
	metrics.RecordWorkerOutcome(OutcomeRetryScheduled)
	metrics.RecordErrorByComponent("worker", "transient")
	w.logger.Warn(ctx, "transient batch failure", append(fields, logger.Error(err))...)
	if errors.Is(err, model.ErrInsertTransient) {
		return OutcomeRetryScheduled, err
	}
	return OutcomeRetryScheduled, &model.InsertError{Transient: true, Err: err}
}

// Name identifies the worker in router logs.
func (w *InsertWorker) Name() string { return w.name }
