package worker

import (
	"github.com/okian/spawnfence/pkg/logger"
)

// Option applies a configuration option to the InsertWorker.
type Option func(*InsertWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InsertWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InsertWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}
