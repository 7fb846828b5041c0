package geofence

import (
	"time"

	"github.com/okian/spawnfence/pkg/logger"
)

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithMaxTries sets how many fetch attempts a refresh makes before giving up.
func WithMaxTries(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxTries = n
		}
	}
}

// WithRetryDelay sets the delay before the second attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Resolver) {
		if d >= 0 {
			r.retryDelay = d
		}
	}
}

// WithRetryMultiplier sets the growth factor between attempts.
func WithRetryMultiplier(m float64) Option {
	return func(r *Resolver) {
		if m >= 1 {
			r.multiplier = m
		}
	}
}

// WithRefreshInterval sets the period of the background refresh.
func WithRefreshInterval(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.refreshInterval = d
		}
	}
}

// WithColdRetry sets how often Serve retries while no snapshot has ever been
// loaded.
func WithColdRetry(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.coldRetry = d
		}
	}
}

// WithLogger sets a custom logger for the resolver.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}
