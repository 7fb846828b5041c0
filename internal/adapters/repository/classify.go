package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"os"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/okian/spawnfence/internal/domain/model"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Classify wraps err as a *model.InsertError, deciding whether retrying can
// help. Anything not recognised as transient is permanent.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ierr *model.InsertError
	if errors.As(err, &ierr) {
		return err
	}
	return &model.InsertError{Transient: IsTransient(err), Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, os.ErrDeadlineExceeded):
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		return pgerrcode.IsConnectionException(code) ||
			pgerrcode.IsTransactionRollback(code) ||
			pgerrcode.IsInsufficientResources(code) ||
			pgerrcode.IsOperatorIntervention(code) ||
			pgerrcode.IsSystemError(code)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		// Extended codes carry the primary code in the low byte.
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
