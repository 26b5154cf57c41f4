package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/apps/cli/cmd/cliutil"
	identityrepo "github.com/zenGate-Global/bizdesk/domains/identity/be/repo"
	identityservice "github.com/zenGate-Global/bizdesk/domains/identity/be/service"
	membershipsrepo "github.com/zenGate-Global/bizdesk/domains/memberships/be/repo"
	membershipsservice "github.com/zenGate-Global/bizdesk/domains/memberships/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/cache"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

// Command groups identity and token helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Identity and token utilities",
	}

	cmd.AddCommand(devTokenCommand(), tokenCommand(), grantAdminCommand())
	return cmd
}

// identityService wires the identity service against Postgres. A secret is only needed by
// commands that issue tokens.
func identityService(db *persistence.DB, secret string, logger *zap.Logger) (*identityservice.Service, error) {
	if secret == "" {
		var err error
		if secret, err = platformauth.GenerateOpaqueToken(); err != nil {
			return nil, err
		}
	}
	issuer, err := platformauth.NewTokenIssuer(secret, 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	memberships := membershipsservice.New(
		membershipsrepo.NewPostgresRepository(persistence.NewMembershipStore(db)),
		membershipsservice.Config{},
		cache.Noop{},
	)
	return identityservice.New(identityservice.Deps{
		Repo:        identityrepo.NewPostgresRepository(persistence.NewIdentityStore(db)),
		Memberships: memberships,
		Issuer:      issuer,
		Logger:      logger,
	}, identityservice.Config{}), nil
}

func tokenCommand() *cobra.Command {
	var (
		databaseURL string
		secret      string
		email       string
	)

	c := &cobra.Command{
		Use:   "token",
		Short: "Open a session for an existing identity and print its access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, logger := cliutil.Job(cmd, "auth.token")
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--jwt-secret or JWT_SECRET is required")
			}

			db, closeDB, err := cliutil.OpenDB(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer closeDB()

			svc, err := identityService(db, secret, logger)
			if err != nil {
				return err
			}
			tokens, err := svc.IssueToken(ctx, email)
			if err != nil {
				return fmt.Errorf("issue token for %s: %w", email, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tokens.AccessToken)
			return nil
		},
	}

	cliutil.DatabaseURLFlag(c, &databaseURL)
	c.Flags().StringVar(&secret, "jwt-secret", "", "HS256 secret shared with the API (defaults to $JWT_SECRET)")
	c.Flags().StringVar(&email, "email", "", "identity email")
	_ = c.MarkFlagRequired("email")
	return c
}

func grantAdminCommand() *cobra.Command {
	var (
		databaseURL string
		email       string
	)

	c := &cobra.Command{
		Use:   "grant-admin",
		Short: "Grant platform administration to an existing identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, logger := cliutil.Job(cmd, "auth.grant-admin")

			db, closeDB, err := cliutil.OpenDB(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer closeDB()

			svc, err := identityService(db, "", logger)
			if err != nil {
				return err
			}
			identity, err := svc.GrantPlatformAdminByEmail(ctx, email)
			if err != nil {
				return fmt.Errorf("grant platform admin to %s: %w", email, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "platform admin granted to %s (%s)\n", identity.Email, identity.ID)
			return nil
		},
	}

	cliutil.DatabaseURLFlag(c, &databaseURL)
	c.Flags().StringVar(&email, "email", "", "identity email")
	_ = c.MarkFlagRequired("email")
	return c
}
