package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// fakeTx satisfies pgx.Tx and records Exec statements and the transaction outcome.
type fakeTx struct {
	stmts      []string
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}
func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}
func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (f *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return &pgconn.StatementDescription{}, errors.New("not implemented")
}
func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.stmts = append(f.stmts, sql)
	return pgconn.CommandTag{}, nil
}
func (f *fakeTx) Conn() *pgx.Conn { return nil }

// fakePool returns a preconstructed transaction.
type fakePool struct{ tx *fakeTx }

func (p *fakePool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return p.tx, nil
}
func (p *fakePool) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not implemented")
}
func (p *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (p *fakePool) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func TestDBTxCommitsOnSuccess(t *testing.T) {
	t.Parallel()

	ftx := &fakeTx{}
	db := NewDB(&fakePool{tx: ftx}, CallConfig{})

	err := db.Tx(context.Background(), "test.tx", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE tenants SET name = 'x'`)
		return err
	})
	require.NoError(t, err)
	require.True(t, ftx.committed)
	require.False(t, ftx.rolledBack)
	require.Len(t, ftx.stmts, 1)
}

func TestDBTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	ftx := &fakeTx{}
	db := NewDB(&fakePool{tx: ftx}, CallConfig{})

	err := db.Tx(context.Background(), "test.tx", func(ctx context.Context, tx pgx.Tx) error {
		return ErrConflict
	})
	require.ErrorIs(t, err, ErrConflict)
	require.False(t, ftx.committed)
	require.True(t, ftx.rolledBack)
}

func TestDBTxAppliesTimeout(t *testing.T) {
	t.Parallel()

	db := NewDB(&fakePool{tx: &fakeTx{}}, CallConfig{Timeout: 50 * time.Millisecond})

	err := db.Tx(context.Background(), "test.tx", func(ctx context.Context, tx pgx.Tx) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		require.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
		return nil
	})
	require.NoError(t, err)
}

func TestDBReadRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	db := NewDB(&fakePool{}, CallConfig{ReadRetries: 2})

	attempts := 0
	err := db.Read(context.Background(), "test.read", func(ctx context.Context, q Querier) error {
		attempts++
		if attempts < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDBReadGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	db := NewDB(&fakePool{}, CallConfig{ReadRetries: 2})

	attempts := 0
	err := db.Read(context.Background(), "test.read", func(ctx context.Context, q Querier) error {
		attempts++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestDBReadDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	db := NewDB(&fakePool{}, CallConfig{ReadRetries: 3})

	attempts := 0
	err := db.Read(context.Background(), "test.read", func(ctx context.Context, q Querier) error {
		attempts++
		return ErrNotFound
	})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, attempts)
}

func TestDBWriteNeverRetries(t *testing.T) {
	t.Parallel()

	db := NewDB(&fakePool{}, CallConfig{ReadRetries: 3})

	attempts := 0
	err := db.Write(context.Background(), "test.write", func(ctx context.Context, q Querier) error {
		attempts++
		return &pgconn.PgError{Code: "40001"}
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestDBObserveReceivesOutcome(t *testing.T) {
	t.Parallel()

	var (
		gotOp  string
		gotErr error
	)
	db := NewDB(&fakePool{}, CallConfig{Observe: func(op string, elapsed time.Duration, err error) {
		gotOp = op
		gotErr = err
	}})

	err := db.Write(context.Background(), "tenants.rename", func(ctx context.Context, q Querier) error {
		return ErrNotFound
	})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, "tenants.rename", gotOp)
	require.ErrorIs(t, gotErr, ErrNotFound)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "not found", err: ErrNotFound, want: false},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "connection failure class", err: &pgconn.PgError{Code: "08006"}, want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "wrapped deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: true},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestMapRowErr(t *testing.T) {
	t.Parallel()

	require.NoError(t, mapRowErr(nil))
	require.ErrorIs(t, mapRowErr(pgx.ErrNoRows), ErrNotFound)
	require.ErrorIs(t, mapRowErr(&pgconn.PgError{Code: "23505"}), ErrConflict)

	other := errors.New("boom")
	require.Equal(t, other, mapRowErr(other))
}
