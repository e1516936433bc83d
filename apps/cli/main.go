package main

import (
	"os"

	"github.com/tradecore-io/tradecore-saas/apps/cli/root"
)

func main() {
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
