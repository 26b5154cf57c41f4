package tenantcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/bizdesk/apps/cli/cmd/cliutil"
	"github.com/zenGate-Global/bizdesk/domains/tenants/be/repo"
	"github.com/zenGate-Global/bizdesk/domains/tenants/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/cache"
	"github.com/zenGate-Global/bizdesk/platform/go/domainsync"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

// Command groups tenant maintenance helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant utilities (re-slug)",
	}

	cmd.AddCommand(reslugCommand())
	return cmd
}

func reslugCommand() *cobra.Command {
	var (
		databaseURL string
		from        string
		to          string
	)

	c := &cobra.Command{
		Use:   "reslug",
		Short: "Rename a tenant id and move every dependent row in one transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, logger := cliutil.Job(cmd, "tenant.reslug")

			db, closeDB, err := cliutil.OpenDB(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer closeDB()

			store := persistence.NewTenantStore(db)
			// API replicas keep their own principal caches; entries for the old id expire with CACHE_TTL.
			svc := service.New(
				repo.NewPostgresRepository(store),
				tenant.NewHostResolver(tenant.NewDBLookup(store)),
				cache.Noop{},
				domainsync.Noop{},
				logger,
			)

			res, err := svc.Reslug(ctx, from, to)
			if err != nil {
				return fmt.Errorf("reslug %s: %w", from, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", res.Status, res.PreviousID, res.TenantID)
			return nil
		},
	}

	cliutil.DatabaseURLFlag(c, &databaseURL)
	c.Flags().StringVar(&from, "from", "", "current tenant id")
	c.Flags().StringVar(&to, "to", "", "new slug")
	_ = c.MarkFlagRequired("from")
	_ = c.MarkFlagRequired("to")

	return c
}
