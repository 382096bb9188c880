package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
)

// ErrLockBusy is returned by a Locker that could not take a key in time.
var ErrLockBusy = errors.New("event lock is held by another writer")

// errConflict marks a lost optimistic version check; the transaction is
// replayed from the start.
var errConflict = errors.New("event row changed concurrently")

// IsTransient reports whether err is a store fault worth retrying: lock
// timeouts, serialization failures, lost version checks and dropped
// connections. Business rule violations are never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errConflict) || errors.Is(err, ErrLockBusy) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "40", "08":
			return true
		}
		return pqErr.Code == "55P03"
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
