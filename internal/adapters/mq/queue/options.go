package queue

// Option applies a configuration option to the IngestionQueue.
type Option func(*IngestionQueue)

// WithMaxSize sets the batch size, which is also the threshold that cuts a
// batch on enqueue.
func WithMaxSize(n int) Option {
	return func(q *IngestionQueue) {
		if n > 0 {
			q.maxSize = n
		}
	}
}
