package availabilitycmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/apps/cli/cmd/cliutil"
	"github.com/zenGate-Global/bizdesk/domains/appointments/be/repo"
	"github.com/zenGate-Global/bizdesk/domains/appointments/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

// Command groups availability maintenance helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Appointments availability maintenance",
	}

	cmd.AddCommand(consolidateCommand())
	return cmd
}

func consolidateCommand() *cobra.Command {
	var (
		databaseURL string
		tenantID    string
	)

	c := &cobra.Command{
		Use:   "consolidate",
		Short: "Move legacy business hours from module settings into the availability table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, logger := cliutil.Job(cmd, "availability.consolidate")

			db, closeDB, err := cliutil.OpenDB(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer closeDB()

			svc := service.New(repo.NewPostgresRepository(
				persistence.NewAvailabilityStore(db),
				persistence.NewAppointmentStore(db),
				persistence.NewModuleStore(db),
			), logger)

			out := cmd.OutOrStdout()
			if tenantID != "" {
				migrated, err := svc.Consolidate(ctx, tenantID)
				if err != nil {
					return fmt.Errorf("consolidate %s: %w", tenantID, err)
				}
				fmt.Fprintf(out, "%s migrated=%t\n", tenantID, migrated)
				return nil
			}

			report, err := svc.ConsolidateAll(ctx)
			if err != nil {
				return fmt.Errorf("consolidate: %w", err)
			}
			for _, id := range report.Migrated {
				fmt.Fprintf(out, "%s migrated=true\n", id)
			}
			for _, id := range report.Skipped {
				fmt.Fprintf(out, "%s migrated=false\n", id)
			}
			if len(report.Failed) > 0 {
				failed := make([]string, 0, len(report.Failed))
				for id := range report.Failed {
					failed = append(failed, id)
				}
				sort.Strings(failed)
				for _, id := range failed {
					fmt.Fprintf(out, "%s failed: %v\n", id, report.Failed[id])
				}
				return fmt.Errorf("%d tenant(s) failed", len(report.Failed))
			}
			logger.Info("consolidation finished",
				zap.Int("migrated", len(report.Migrated)),
				zap.Int("skipped", len(report.Skipped)),
			)
			return nil
		},
	}

	cliutil.DatabaseURLFlag(c, &databaseURL)
	c.Flags().StringVar(&tenantID, "tenant", "", "only consolidate this tenant id")
	return c
}
