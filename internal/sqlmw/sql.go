// Package sqlmw wraps database handles so slow statements surface in the
// structured log without callers having to remember to time anything.
package sqlmw

import (
	"context"
	"database/sql"
	"time"

	"github.com/syncdock/syncdock-server/logfield"
)

type logger interface {
	Infow(msg string, keysAndValues ...interface{})
}

type Opt func(*DB)

func WithLogger(log logger) Opt {
	return func(db *DB) {
		db.logger = log
	}
}

func WithKeysAndValues(keysAndValues ...any) Opt {
	return func(db *DB) {
		db.keysAndValues = keysAndValues
	}
}

func WithSlowQueryThreshold(threshold time.Duration) Opt {
	return func(db *DB) {
		db.slowQueryThreshold = threshold
	}
}

type DB struct {
	*sql.DB

	since              func(time.Time) time.Duration
	logger             logger
	keysAndValues      []any
	slowQueryThreshold time.Duration
}

type Tx struct {
	*sql.Tx
	db *DB
}

func New(db *sql.DB, opts ...Opt) *DB {
	s := &DB{
		DB:                 db,
		since:              time.Since,
		slowQueryThreshold: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	startedAt := time.Now()
	result, err := db.DB.ExecContext(ctx, query, args...)
	db.logQuery(query, db.since(startedAt))
	return result, err
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	startedAt := time.Now()
	rows, err := db.DB.QueryContext(ctx, query, args...)
	db.logQuery(query, db.since(startedAt))
	return rows, err
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx, db}, nil
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	startedAt := time.Now()
	result, err := tx.Tx.ExecContext(ctx, query, args...)
	tx.db.logQuery(query, tx.db.since(startedAt))
	return result, err
}

func (db *DB) logQuery(query string, elapsed time.Duration) {
	if db.logger == nil || elapsed < db.slowQueryThreshold {
		return
	}

	keysAndValues := []any{
		logfield.Query, query,
		logfield.QueryTime, elapsed,
	}
	keysAndValues = append(keysAndValues, db.keysAndValues...)

	db.logger.Infow("executing query", keysAndValues...)
}
