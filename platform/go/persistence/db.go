package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is satisfied by *pgxpool.Pool.
type Pool interface {
	Querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// CallConfig controls how every store call reaches Postgres.
type CallConfig struct {
	// Timeout bounds a single call (or a whole transaction). Defaults to 5s.
	Timeout time.Duration
	// ReadRetries is the number of extra attempts for idempotent reads failing with a transient error.
	ReadRetries uint64
	// Observe, when set, receives the outcome of every call (used for metrics).
	Observe func(op string, elapsed time.Duration, err error)
}

// DB wraps a pool and applies the call policy: explicit timeouts everywhere, bounded
// retries for reads only, and a single transaction primitive for multi-row mutations.
type DB struct {
	pool Pool
	cfg  CallConfig
}

// NewDB builds a DB; it panics on a nil pool like the rest of the constructors.
func NewDB(pool Pool, cfg CallConfig) *DB {
	if pool == nil {
		panic("persistence: pool is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &DB{pool: pool, cfg: cfg}
}

// Read runs an idempotent read. Transient failures are retried with exponential backoff.
func (db *DB) Read(ctx context.Context, op string, fn func(ctx context.Context, q Querier) error) error {
	start := time.Now()

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, db.cfg.Timeout)
		defer cancel()

		err := fn(callCtx, db.pool)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, db.cfg.ReadRetries), ctx))

	db.observe(op, start, err)
	return err
}

// Write runs a single statement mutation without retries.
func (db *DB) Write(ctx context.Context, op string, fn func(ctx context.Context, q Querier) error) error {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, db.cfg.Timeout)
	defer cancel()

	err := fn(callCtx, db.pool)
	db.observe(op, start, err)
	return err
}

// Tx executes fn inside one transaction. Any error rolls everything back.
func (db *DB) Tx(ctx context.Context, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	start := time.Now()
	err := db.runTx(ctx, fn)
	db.observe(op, start, err)
	return err
}

func (db *DB) runTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	callCtx, cancel := context.WithTimeout(ctx, db.cfg.Timeout)
	defer cancel()

	tx, err := db.pool.BeginTx(callCtx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(callCtx) // nolint:errcheck

	if err := fn(callCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(callCtx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks connectivity when the underlying pool supports it.
func (db *DB) Ping(ctx context.Context) error {
	pinger, ok := db.pool.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, db.cfg.Timeout)
	defer cancel()
	return pinger.Ping(callCtx)
}

func (db *DB) observe(op string, start time.Time, err error) {
	if db.cfg.Observe != nil {
		db.cfg.Observe(op, time.Since(start), err)
	}
}

// IsTransient reports whether err is worth retrying for an idempotent read.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "57P03":
			return true
		}
		// class 08: connection exceptions
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}

	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
