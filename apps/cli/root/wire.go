package root

import (
	tenantcmd "github.com/tradecore-io/tradecore-saas/apps/cli/cmd/tenant"
)

func init() {
	Root().AddCommand(tenantcmd.Command())
}
