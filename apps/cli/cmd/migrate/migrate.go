package migratecmd

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/apps/cli/cmd/cliutil"
	sqlassets "github.com/zenGate-Global/bizdesk/database"
)

// Command groups schema migration helpers backed by the embedded SQL files.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database migrations",
	}

	cmd.AddCommand(upCommand(), downCommand(), versionCommand())
	return cmd
}

func upCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := cliutil.DatabaseURL(databaseURL)
			if err != nil {
				return err
			}
			db, err := sqlassets.Open(url)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := sqlassets.Up(db); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			return printVersion(cmd, db)
		},
	}
	cliutil.DatabaseURLFlag(c, &databaseURL)
	return c
}

func downCommand() *cobra.Command {
	var (
		databaseURL string
		steps       int
	)

	c := &cobra.Command{
		Use:   "down",
		Short: "Roll back the given number of migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			url, err := cliutil.DatabaseURL(databaseURL)
			if err != nil {
				return err
			}
			db, err := sqlassets.Open(url)
			if err != nil {
				return err
			}
			defer db.Close()

			cliutil.Logger(cmd).Warn("rolling back migrations", zap.Int("steps", steps))
			if err := sqlassets.Down(db, steps); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			return printVersion(cmd, db)
		},
	}
	cliutil.DatabaseURLFlag(c, &databaseURL)
	c.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return c
}

func versionCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := cliutil.DatabaseURL(databaseURL)
			if err != nil {
				return err
			}
			db, err := sqlassets.Open(url)
			if err != nil {
				return err
			}
			defer db.Close()
			return printVersion(cmd, db)
		},
	}
	cliutil.DatabaseURLFlag(c, &databaseURL)
	return c
}

func printVersion(cmd *cobra.Command, db *sql.DB) error {
	version, dirty, err := sqlassets.Version(db)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
	return nil
}
