package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"

	"github.com/go-sql-driver/mysql"
)

const errDuplicateEntry = 1062

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RunInTx runs fn inside a transaction, committing only when fn succeeds.
func RunInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "begin transaction", xerrors.WithRetryable(true))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit transaction")
	}
	return nil
}

// IsDuplicate reports whether err is a unique key violation.
func IsDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry
}

// Unix converts t to unix seconds, mapping the zero time to 0.
func Unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// FromUnix is the inverse of Unix.
func FromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// Bool converts a TINYINT flag.
func Bool(v int64) bool { return v != 0 }

// Flag converts b to a TINYINT flag.
func Flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NotFound maps sql.ErrNoRows onto a NOT_FOUND error for entity.
func NotFound(err error, entity string, key any) error {
	if stdErrors.Is(err, sql.ErrNoRows) {
		return xerrors.Newf(xerrors.CodeNotFound, "%s %v not found", entity, key)
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "load "+entity)
}
