package repository

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"github.com/okian/spawnfence/internal/domain/model"
	"github.com/okian/spawnfence/pkg/logger"
	"github.com/okian/spawnfence/pkg/metrics"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Driver names understood by Open.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

const defaultMaxInsertRows = 1000

func init() {
	// modernc registers as "sqlite", which sqlx does not know.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// SQLStore writes sightings through database/sql.
type SQLStore struct {
	db            *sqlx.DB
	driver        string
	maxInsertRows int
	logger        logger.Logger
}

// Open connects, pings and creates the table if needed.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	var schema string
	switch driver {
	case DriverPostgres:
		schema = postgresSchema
	case DriverSQLite:
		schema = sqliteSchema
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer; also keeps a :memory: database alive across calls.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s: %w", TableName, err)
	}

	s := &SQLStore{
		db:            db,
		driver:        driver,
		maxInsertRows: defaultMaxInsertRows,
		logger:        logger.Get().Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Info(ctx, "storage ready",
		logger.String("driver", driver),
		logger.Int("max_insert_rows", s.maxInsertRows))
	return s, nil
}

// InsertSightings stores rows in one transaction using multi-row inserts of
// at most maxInsertRows rows each.
func (s *SQLStore) InsertSightings(ctx context.Context, rows []model.Sighting) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	start := time.Now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, Classify(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	for lo := 0; lo < len(rows); lo += s.maxInsertRows {
		hi := min(lo+s.maxInsertRows, len(rows))
		if _, err := tx.NamedExecContext(ctx, insertSightings, rows[lo:hi]); err != nil {
			return 0, Classify(fmt.Errorf("insert rows %d-%d: %w", lo, hi, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, Classify(fmt.Errorf("commit: %w", err))
	}

	metrics.RecordInsertLatency(float64(time.Since(start).Milliseconds()))
	metrics.RecordRowsInserted(len(rows))
	return len(rows), nil
}

// Count returns the number of stored rows.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+TableName); err != nil {
		return 0, Classify(err)
	}
	return n, nil
}

// Close closes the pool.
func (s *SQLStore) Close() error { return s.db.Close() }
