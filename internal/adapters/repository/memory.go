package repository

import (
	"context"
	"sync"

	"github.com/okian/spawnfence/internal/domain/model"
	"github.com/okian/spawnfence/pkg/metrics"
)

// MemoryStore keeps rows in process. Used for local runs without a database.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []model.Sighting
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) InsertSightings(ctx context.Context, rows []model.Sighting) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, Classify(err)
	}
	m.mu.Lock()
	m.rows = append(m.rows, rows...)
	m.mu.Unlock()
	metrics.RecordRowsInserted(len(rows))
	return len(rows), nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows), nil
}

// Rows returns a copy of the stored rows in insert order.
func (m *MemoryStore) Rows() []model.Sighting {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Sighting(nil), m.rows...)
}

func (m *MemoryStore) Close() error { return nil }
