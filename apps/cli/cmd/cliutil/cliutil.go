// Package cliutil holds the plumbing shared by CLI commands: database flags, store
// wiring and a stderr logger so stdout stays parseable.
package cliutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
	"github.com/zenGate-Global/bizdesk/platform/go/requesttrace"
)

// DatabaseURLFlag registers --database-url. The environment is read at run time, after
// main has loaded .env.
func DatabaseURLFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "database-url", "", "PostgreSQL connection string (defaults to $DATABASE_URL)")
}

// DatabaseURL returns the flag value or $DATABASE_URL, failing with a readable message
// instead of a pgx parse error.
func DatabaseURL(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url, nil
	}
	return "", fmt.Errorf("--database-url or DATABASE_URL is required")
}

// OpenDB connects a pool and wraps it with the store call policy. The returned func
// closes the pool.
func OpenDB(ctx context.Context, url string) (*persistence.DB, func(), error) {
	url, err := DatabaseURL(url)
	if err != nil {
		return nil, nil, err
	}
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      url,
		ApplicationName: "bizdesk-cli",
		MaxConns:        4,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init pool: %w", err)
	}
	db := persistence.NewDB(pool, persistence.CallConfig{Timeout: 30 * time.Second, ReadRetries: 2})
	return db, func() { persistence.ClosePool(pool) }, nil
}

// Logger writes structured logs to the command's stderr.
func Logger(cmd *cobra.Command) *zap.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = "info"
	}
	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "cli",
		Level:     level,
		Format:    "console",
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Job starts a unit of CLI work: the returned context carries a system actor and a logger
// tagged with the job name, so service logs line up with the command that caused them.
func Job(cmd *cobra.Command, name string) (context.Context, *zap.Logger) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	trace := requesttrace.System(name)
	logger := Logger(cmd).With(trace.LogFields()...).With(zap.String("job", name))
	ctx = requesttrace.IntoContext(ctx, trace)
	return platformlogging.WithLogger(ctx, logger), logger
}
