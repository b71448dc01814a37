package repository

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a query for a single entity finds nothing.
// The service layer translates it into a domain-level error, so callers never
// see sql.ErrNoRows or redis.Nil.
var ErrNotFound = errors.New("repository: not found")

// ErrStorageFull is returned when the backing store has no room left for a
// write. Callers may evict old conversations and try again.
var ErrStorageFull = errors.New("repository: storage full")

// translateWriteError maps backend-specific out-of-space conditions to
// ErrStorageFull and leaves every other error untouched.
func translateWriteError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
		return errors.Join(ErrStorageFull, err)
	}
	if strings.HasPrefix(err.Error(), "OOM ") {
		return errors.Join(ErrStorageFull, err)
	}
	return err
}
