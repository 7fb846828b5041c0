// Package dedupe suppresses repeated sightings before they reach the queue.
package dedupe

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	defaultMaxSize = 50_000
	defaultWindow  = 10 * time.Minute
)

// Deduper records content keys that were already accepted.
type Deduper interface {
	// SeenAndRecord reports whether key was seen within the window and
	// records it if not.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so a later copy is accepted again. Used when an
	// accepted sighting could not be buffered.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// inMemoryDeduper keeps the most recent maxSize keys with the time they were
// recorded. A key older than window counts as new and is recorded again.
// Lookups do not refresh recency, so the oldest recorded key is evicted first.
type inMemoryDeduper struct {
	maxSize int
	window  time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache *lru.Cache
}

// NewInMemoryDeduper creates a bounded deduper. A max size or window of zero
// or less disables deduplication: every key is reported as new.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		window:  defaultWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxSize <= 0 || d.window <= 0 {
		return noopDeduper{}
	}

	cache, err := lru.New(d.maxSize)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	d.cache = cache
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if v, ok := d.cache.Peek(key); ok {
		if now.Sub(v.(time.Time)) < d.window {
			return true
		}
		// Re-adding would keep the stale recency; evict first.
		d.cache.Remove(key)
	}
	d.cache.Add(key, now)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Remove(key)
}

func (d *inMemoryDeduper) Size() int64 {
	return int64(d.cache.Len())
}

type noopDeduper struct{}

func (noopDeduper) SeenAndRecord(context.Context, string) bool { return false }
func (noopDeduper) Unrecord(context.Context, string)           {}
func (noopDeduper) Size() int64                                { return 0 }
