package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "tradecore",
	Short:         "Operations toolbox for the tradecore control plane",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Root exposes the root command so wiring code can attach subcommands.
func Root() *cobra.Command {
	return rootCmd
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
