// Package service is the receiver pipeline: it turns webhook envelopes into
// geofenced sightings, buffers them and hands full batches to the dispatcher.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/spawnfence/internal/adapters/mq/queue"
	"github.com/okian/spawnfence/internal/domain/dedupe"
	"github.com/okian/spawnfence/internal/domain/model"
	"github.com/okian/spawnfence/internal/domain/normalize"
	"github.com/okian/spawnfence/pkg/logger"
	"github.com/okian/spawnfence/pkg/metrics"
)

// Classifier maps a coordinate to the first geofence containing it.
type Classifier interface {
	Classify(lat, lon float64) (string, bool)
	Len() int
}

// Dispatcher submits a batch of queue items to the task queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, items []model.QueueItem) (model.Batch, error)
}

// IngestResult counts what happened to each element of one webhook body.
type IngestResult struct {
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Unmatched int `json:"unmatched"`
	Duplicate int `json:"duplicate"`
	Ignored   int `json:"ignored"`
}

func (r IngestResult) total() int {
	return r.Accepted + r.Rejected + r.Unmatched + r.Duplicate + r.Ignored
}

// Service implements the webhook ingest dependencies of the HTTP API.
type Service struct {
	mu sync.RWMutex

	normalizer *normalize.Normalizer
	classifier Classifier
	deduper    dedupe.Deduper
	queue      queue.Queue
	dispatcher Dispatcher

	dedupeSize   int
	dedupeWindow time.Duration
	now          func() time.Time

	accepted  atomic.Int64
	rejected  atomic.Int64
	unmatched atomic.Int64
	duplicate atomic.Int64
	ignored   atomic.Int64

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDedupeSize bounds the seen set of content keys. Zero disables
// ingest-side duplicate suppression.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithDedupeWindow sets how long an accepted content key suppresses later
// copies. A distinct spawn with the same content after the window is accepted.
func WithDedupeWindow(window time.Duration) Option {
	return func(s *Service) {
		if window >= 0 {
			s.dedupeWindow = window
		}
	}
}

// WithClock replaces time.Now for the dedupe window.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wires the receiver pipeline.
func New(classifier Classifier, q queue.Queue, dispatcher Dispatcher, opts ...Option) *Service {
	s := &Service{
		normalizer: normalize.New(),
		classifier: classifier,
		queue:      q,
		dispatcher: dispatcher,
		dedupeSize:   50_000,
		dedupeWindow: 10 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("receiver")
	}
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
		dedupe.WithWindow(s.dedupeWindow),
		dedupe.WithClock(s.now),
	)
	return s
}

// Start marks the service ready to ingest.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.started = true
	s.logger.Info(ctx, "receiver started",
		logger.Int("geofences", s.classifier.Len()),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("dedupeWindow", s.dedupeWindow),
	)
	return nil
}

// Stop closes the queue and dispatches everything still buffered in
// batch-size chunks. Dispatch failures are logged by the dispatcher and do
// not stop the drain.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(ctx, "stopping receiver...")

	_ = s.queue.Close()
	batches := s.queue.DrainBatches()
	lost := 0
	for _, items := range batches {
		if _, err := s.dispatcher.Dispatch(ctx, items); err != nil {
			lost += len(items)
		}
	}

	s.started = false
	s.logger.Info(ctx, "receiver stopped",
		logger.Int("drainedBatches", len(batches)),
		logger.Int("lostItems", lost),
	)
}

// Ingest runs every envelope through normalize, classify, dedupe and
// enqueue. Per-event drops never fail the call; only a closed or cancelled
// queue does.
func (s *Service) Ingest(ctx context.Context, envelopes []model.Envelope) (IngestResult, error) {
	var res IngestResult
	for i := range envelopes {
		outcome, err := s.ingestOne(ctx, &envelopes[i])
		if err != nil {
			s.tally(res)
			return res, err
		}
		metrics.RecordWebhookEvent(outcome)
		switch outcome {
		case metrics.OutcomeAccepted:
			res.Accepted++
		case metrics.OutcomeRejected:
			res.Rejected++
		case metrics.OutcomeUnmatched:
			res.Unmatched++
		case metrics.OutcomeDuplicate:
			res.Duplicate++
		case metrics.OutcomeIgnored:
			res.Ignored++
		}
	}

	s.tally(res)
	s.logger.Info(ctx, "Current queue size",
		logger.Int("size", s.queue.Len(ctx)),
		logger.Int("received", res.total()),
		logger.Int("accepted", res.Accepted),
	)
	return res, nil
}

func (s *Service) tally(res IngestResult) {
	s.accepted.Add(int64(res.Accepted))
	s.rejected.Add(int64(res.Rejected))
	s.unmatched.Add(int64(res.Unmatched))
	s.duplicate.Add(int64(res.Duplicate))
	s.ignored.Add(int64(res.Ignored))
}

func (s *Service) ingestOne(ctx context.Context, env *model.Envelope) (string, error) {
	if env.Type != model.EventTypePokemon {
		s.logger.Debug(ctx, "ignoring webhook type", logger.String("type", env.Type))
		return metrics.OutcomeIgnored, nil
	}

	raw, err := s.normalizer.Decode(env.Message)
	if err != nil {
		s.logger.Debug(ctx, "event rejected", logger.Error(err))
		return metrics.OutcomeRejected, nil
	}
	sighting, err := s.normalizer.Normalize(raw)
	if err != nil {
		s.logger.Debug(ctx, "event rejected", logger.Error(err))
		return metrics.OutcomeRejected, nil
	}

	area, ok := s.classifier.Classify(sighting.Latitude, sighting.Longitude)
	if !ok {
		s.logger.Debug(ctx, "event dropped",
			logger.Float64("latitude", sighting.Latitude),
			logger.Float64("longitude", sighting.Longitude),
			logger.Error(model.ErrClassificationMiss))
		return metrics.OutcomeUnmatched, nil
	}
	sighting.AreaName = area

	item, err := model.NewQueueItem(sighting)
	if err != nil {
		s.logger.Debug(ctx, "event rejected", logger.Error(err))
		return metrics.OutcomeRejected, nil
	}

	if s.deduper.SeenAndRecord(ctx, item.ContentKey) {
		s.logger.Debug(ctx, "duplicate event skipped",
			logger.String("content_key", item.ContentKey),
			logger.Error(model.ErrDuplicate))
		return metrics.OutcomeDuplicate, nil
	}

	batch, err := s.queue.Enqueue(ctx, item)
	if err != nil {
		s.deduper.Unrecord(ctx, item.ContentKey)
		return "", err
	}
	if batch != nil {
		s.flush(ctx, batch)
	}
	return metrics.OutcomeAccepted, nil
}

// flush dispatches threshold batches outside the queue lock until the buffer
// is below the batch size again. Batches are already cut, so the caller's
// cancellation must not abandon them.
func (s *Service) flush(ctx context.Context, items []model.QueueItem) {
	dctx := context.WithoutCancel(ctx)
	for items != nil {
		s.logger.Info(ctx, "threshold flush", logger.Int("items", len(items)))
		if _, err := s.dispatcher.Dispatch(dctx, items); err != nil {
			s.logger.Error(ctx, "threshold flush dispatch failed", logger.Error(err))
		}
		items = s.queue.Done()
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"queueLength": s.queue.Len(ctx),
		"geofences":   s.classifier.Len(),
		"dedupeSize":  s.dedupeSize,
		"dedupeKeys":  s.deduper.Size(),
		"accepted":    s.accepted.Load(),
		"rejected":    s.rejected.Load(),
		"unmatched":   s.unmatched.Load(),
		"duplicate":   s.duplicate.Load(),
		"ignored":     s.ignored.Load(),
	}
	metrics.UpdateQueueSize(stats["queueLength"].(int))
	return stats
}

// IsClosed reports whether the receiver stopped accepting events.
func (s *Service) IsClosed() bool { return s.queue.IsClosed() }

// IsShutdown reports whether err means the receiver is shutting down.
func IsShutdown(err error) bool {
	return errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled)
}
