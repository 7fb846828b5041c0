package geofence

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/okian/spawnfence/internal/domain/model"
	"github.com/okian/spawnfence/pkg/logger"
	"github.com/okian/spawnfence/pkg/metrics"
)

const (
	defaultMaxTries        = 5
	defaultRetryDelay      = 2 * time.Second
	defaultMultiplier      = 2.0
	defaultRefreshInterval = time.Hour
	defaultColdRetry       = time.Minute
	maxRetryInterval       = 5 * time.Minute
)

// Source fetches the current area set. Implementations should return areas in
// feed order; the first area that contains a point wins.
type Source interface {
	Fetch(ctx context.Context) ([]Area, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Area, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context) ([]Area, error) { return f(ctx) }

type snapshot struct {
	areas     []Area
	fetchedAt time.Time
}

// Resolver keeps an immutable snapshot of areas and swaps it atomically on
// every successful refresh. Readers never block writers.
type Resolver struct {
	source          Source
	current         atomic.Pointer[snapshot]
	maxTries        int
	retryDelay      time.Duration
	multiplier      float64
	refreshInterval time.Duration
	coldRetry       time.Duration
	logger          logger.Logger
}

// New creates a resolver over source with an empty area set.
func New(source Source, opts ...Option) *Resolver {
	r := &Resolver{
		source:          source,
		maxTries:        defaultMaxTries,
		retryDelay:      defaultRetryDelay,
		multiplier:      defaultMultiplier,
		refreshInterval: defaultRefreshInterval,
		coldRetry:       defaultColdRetry,
		logger:          logger.Get().Named("geofence"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&snapshot{})
	return r
}

// Refresh fetches the area set, retrying with exponential backoff. On success
// the snapshot is replaced; on failure the previous snapshot stays in place and
// a *model.FetchError is returned.
func (r *Resolver) Refresh(ctx context.Context) error {
	if r.source == nil {
		return ErrNoSource
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryDelay
	b.Multiplier = r.multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := 0
	var areas []Area
	op := func() error {
		attempts++
		got, err := r.source.Fetch(ctx)
		if err != nil {
			return err
		}
		areas = got
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn(ctx, "geofence fetch failed, retrying",
			logger.Int("attempt", attempts),
			logger.Duration("wait", wait),
			logger.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxTries-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		metrics.RecordGeofenceRefresh(false, r.Len())
		metrics.RecordErrorByComponent("geofence", "fetch")
		return &model.FetchError{Attempts: attempts, Err: err}
	}

	r.current.Store(&snapshot{areas: areas, fetchedAt: time.Now()})
	metrics.RecordGeofenceRefresh(true, len(areas))
	r.logger.Info(ctx, "geofences refreshed",
		logger.Int("areas", len(areas)),
		logger.Int("attempts", attempts))
	return nil
}

// Start performs the initial load. A failure is logged and the resolver keeps
// serving an empty set so ingestion can proceed with every event unmatched.
func (r *Resolver) Start(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Error(ctx, "initial geofence load failed, starting with no areas", logger.Error(err))
	}
}

// Serve refreshes on every tick until ctx is done. Until a snapshot has been
// loaded at least once it retries every cold retry period instead of waiting
// a full refresh interval. It never returns an error for a failed refresh.
func (r *Resolver) Serve(ctx context.Context) error {
	timer := time.NewTimer(r.nextRefresh())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error(ctx, "geofence refresh failed, keeping previous areas", logger.Error(err))
			}
			timer.Reset(r.nextRefresh())
		}
	}
}

func (r *Resolver) nextRefresh() time.Duration {
	if r.FetchedAt().IsZero() {
		return min(r.coldRetry, r.refreshInterval)
	}
	return r.refreshInterval
}

// String names the service in supervisor events.
func (r *Resolver) String() string { return "geofence-refresher" }

// Classify returns the name of the first area containing (lat, lon).
func (r *Resolver) Classify(lat, lon float64) (string, bool) {
	for _, a := range r.current.Load().areas {
		if a.Contains(lat, lon) {
			return a.Name, true
		}
	}
	return "", false
}

// Len returns the number of areas in the current snapshot.
func (r *Resolver) Len() int {
	return len(r.current.Load().areas)
}

// FetchedAt returns when the current snapshot was loaded. Zero means never.
func (r *Resolver) FetchedAt() time.Time {
	return r.current.Load().fetchedAt
}

// Names lists the area names in match order.
func (r *Resolver) Names() []string {
	areas := r.current.Load().areas
	out := make([]string, len(areas))
	for i, a := range areas {
		out[i] = a.Name
	}
	return out
}
