// Package queue buffers normalized sightings in arrival order and cuts them
// into batches when a flush threshold is reached.
package queue

import (
	"context"
	"sync"

	"github.com/okian/spawnfence/internal/domain/model"
	"github.com/okian/spawnfence/pkg/metrics"
)

const defaultMaxSize = 1000

// Flush triggers, as reported to metrics.
const (
	TriggerThreshold = "threshold"
	TriggerIdle      = "idle"
	TriggerShutdown  = "shutdown"
)

// Queue is the contract the receiver uses to buffer sightings.
type Queue interface {
	// Enqueue appends item. When the buffer reaches the batch size and no
	// threshold flush is running, the oldest batch is cut and returned; the
	// caller must dispatch it and then call Done.
	Enqueue(ctx context.Context, item model.QueueItem) ([]model.QueueItem, error)

	// Done finishes the threshold flush returned by Enqueue. If the buffer
	// refilled to the batch size meanwhile, the next batch is cut and
	// returned and the caller keeps flushing until Done returns nil.
	Done() []model.QueueItem

	// DrainAbove removes and returns the whole buffer if it holds more than
	// limit items, nil otherwise.
	DrainAbove(limit int) []model.QueueItem

	// DrainBatches removes everything, cut into batch-size chunks.
	DrainBatches() [][]model.QueueItem

	Len(ctx context.Context) int
	Close() error
	IsClosed() bool
}

// IngestionQueue implements Queue over a single slice. The mutex only guards
// slice operations; batches are handed out and dispatched without it.
type IngestionQueue struct {
	mu       sync.Mutex
	items    []model.QueueItem
	maxSize  int
	flushing bool
	closed   bool
}

// NewIngestionQueue creates an empty queue.
func NewIngestionQueue(opts ...Option) *IngestionQueue {
	q := &IngestionQueue{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make([]model.QueueItem, 0, q.maxSize)

	metrics.UpdateQueueCapacity(q.maxSize)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue appends item and cuts a threshold batch when one is due.
func (q *IngestionQueue) Enqueue(ctx context.Context, item model.QueueItem) ([]model.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return nil, ErrClosed
	}

	q.items = append(q.items, item)
	if len(q.items) < q.maxSize || q.flushing {
		metrics.UpdateQueueSize(len(q.items))
		return nil, nil
	}

	batch := q.cutLocked(q.maxSize)
	q.flushing = true
	metrics.RecordQueueFlush(TriggerThreshold)
	return batch, nil
}

// Done clears the in-flight threshold flush, or hands the caller the next
// due batch if enqueues filled the buffer while it was dispatching.
func (q *IngestionQueue) Done() []model.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) < q.maxSize {
		q.flushing = false
		return nil
	}
	metrics.RecordQueueFlush(TriggerThreshold)
	return q.cutLocked(q.maxSize)
}

// DrainAbove empties the buffer when it holds more than limit items.
func (q *IngestionQueue) DrainAbove(limit int) []model.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) <= limit {
		return nil
	}
	metrics.RecordQueueFlush(TriggerIdle)
	return q.cutLocked(len(q.items))
}

// DrainBatches empties the buffer in chunks of at most the batch size,
// oldest first.
func (q *IngestionQueue) DrainBatches() [][]model.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out [][]model.QueueItem
	for len(q.items) > 0 {
		n := min(q.maxSize, len(q.items))
		out = append(out, q.cutLocked(n))
		metrics.RecordQueueFlush(TriggerShutdown)
	}
	return out
}

// cutLocked removes the n oldest items. Callers hold q.mu.
func (q *IngestionQueue) cutLocked(n int) []model.QueueItem {
	batch := make([]model.QueueItem, n)
	copy(batch, q.items[:n])

	rest := len(q.items) - n
	copy(q.items, q.items[n:])
	clear(q.items[rest:])
	q.items = q.items[:rest]

	metrics.UpdateQueueSize(rest)
	return batch
}

// Len returns the number of buffered items.
func (q *IngestionQueue) Len(_ context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// MaxSize returns the batch size.
func (q *IngestionQueue) MaxSize() int { return q.maxSize }

// Close rejects later enqueues. Buffered items stay until drained.
func (q *IngestionQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *IngestionQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
