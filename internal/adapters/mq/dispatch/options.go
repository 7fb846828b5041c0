package dispatch

import (
	"time"

	"github.com/okian/spawnfence/pkg/logger"
)

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithTopic sets the task queue topic.
func WithTopic(topic string) Option {
	return func(d *Dispatcher) {
		if topic != "" {
			d.topic = topic
		}
	}
}

// WithMaxRetries sets how many extra attempts follow the first failure.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.maxRetries = n
		}
	}
}

// WithRetryDelay sets the linear retry step.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		if delay >= 0 {
			d.retryDelay = delay
		}
	}
}

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}
