package root

import (
	"github.com/zenGate-Global/bizdesk/apps/cli/cmd/auth"
	availabilitycmd "github.com/zenGate-Global/bizdesk/apps/cli/cmd/availability"
	migratecmd "github.com/zenGate-Global/bizdesk/apps/cli/cmd/migrate"
	tenantcmd "github.com/zenGate-Global/bizdesk/apps/cli/cmd/tenant"
)

func init() {
	Root().AddCommand(migratecmd.Command())
	Root().AddCommand(tenantcmd.Command())
	Root().AddCommand(availabilitycmd.Command())
	Root().AddCommand(auth.Command())
}
