package store

import (
	"context"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	perrors "github.com/mikeusry/southland-platform-sub000/internal/errors"
)

// codedError is implemented by driver errors that carry a SQLite result code.
type codedError interface {
	Code() int
}

var _ codedError = (*sqlite.Error)(nil)

// classify tags transient driver failures with the sentinels callers retry on.
// Busy and locked databases become perrors.ErrUnavailable, expired deadlines
// perrors.ErrTimeout. Everything else is returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", perrors.ErrTimeout, err)
	}
	var coded codedError
	if errors.As(err, &coded) {
		// Extended result codes keep the primary code in the low byte.
		switch coded.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", perrors.ErrUnavailable, err)
		}
	}
	return err
}
