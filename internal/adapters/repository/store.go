// Package repository stores sightings and classifies storage failures as
// transient or permanent.
package repository

import (
	"context"

	"github.com/okian/spawnfence/internal/domain/model"
)

// Store is the sink the insert worker writes batches to.
type Store interface {
	// InsertSightings stores rows atomically: either every row is stored or
	// none is. Failures are returned as *model.InsertError.
	InsertSightings(ctx context.Context, rows []model.Sighting) (int, error)

	// Count returns the number of stored rows.
	Count(ctx context.Context) (int, error)

	Close() error
}
