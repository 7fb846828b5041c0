package flusher

import "time"

// Option applies a configuration option to the Flusher.
type Option func(*Flusher)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(f *Flusher) {
		if d > 0 {
			f.interval = d
		}
	}
}
