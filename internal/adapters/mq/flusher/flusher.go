// Package flusher drains the ingestion queue on a timer so a quiet stream
// still reaches storage.
package flusher

import (
	"context"
	"time"

	"github.com/okian/spawnfence/internal/domain/model"
	"github.com/okian/spawnfence/pkg/logger"
)

const defaultInterval = 10 * time.Second

// Drainer is the part of the queue the flusher needs.
type Drainer interface {
	DrainAbove(limit int) []model.QueueItem
}

// Dispatcher submits a drained buffer as one batch.
type Dispatcher interface {
	Dispatch(ctx context.Context, items []model.QueueItem) (model.Batch, error)
}

// Flusher is a supervised service. On every tick it drains the queue if it
// holds more than the watermark and dispatches the whole buffer as one batch.
type Flusher struct {
	queue      Drainer
	dispatcher Dispatcher
	watermark  int
	interval   time.Duration
	logger     logger.Logger
}

// New creates a flusher for queue. watermark is max_queue_size plus
// extra_flush_threshold.
func New(queue Drainer, dispatcher Dispatcher, watermark int, opts ...Option) *Flusher {
	f := &Flusher{
		queue:      queue,
		dispatcher: dispatcher,
		watermark:  watermark,
		interval:   defaultInterval,
		logger:     logger.Get().Named("flusher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Serve ticks until ctx is done.
func (f *Flusher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.Tick(ctx)
		}
	}
}

// Tick performs one idle flush check. Dispatch failures are logged; the
// dispatcher has already counted the batch as lost.
func (f *Flusher) Tick(ctx context.Context) {
	items := f.queue.DrainAbove(f.watermark)
	if len(items) == 0 {
		return
	}

	f.logger.Info(ctx, "idle flush",
		logger.Int("items", len(items)),
		logger.Int("watermark", f.watermark))

	// The buffer is already cut; finish its dispatch even if ctx ends.
	batch, err := f.dispatcher.Dispatch(context.WithoutCancel(ctx), items)
	if err != nil {
		f.logger.Error(ctx, "idle flush dispatch failed",
			logger.String("batch_key", batch.Key),
			logger.Error(err))
	}
}

// String names the service in supervisor events.
func (f *Flusher) String() string { return "idle-flusher" }
