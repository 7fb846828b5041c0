package repository

import "github.com/okian/spawnfence/pkg/logger"

// Option applies a configuration option to the SQLStore.
type Option func(*SQLStore)

// WithMaxInsertRows caps the rows per INSERT statement.
func WithMaxInsertRows(n int) Option {
	return func(s *SQLStore) {
		if n > 0 {
			s.maxInsertRows = n
		}
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *SQLStore) {
		if l != nil {
			s.logger = l
		}
	}
}
