package lock

import "time"

// Option applies a configuration option to the DedupLock.
type Option func(*DedupLock)

// WithTTL sets the lock expiry, which bounds how long a crashed worker can
// block a batch.
func WithTTL(ttl time.Duration) Option {
	return func(l *DedupLock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPrefix namespaces the keys.
func WithPrefix(prefix string) Option {
	return func(l *DedupLock) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}
