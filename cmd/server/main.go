// Command signflow runs the signing workflow service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "signflow",
		Short:         "Multi-recipient document signing workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default: ./config.yaml or ./config/config.yaml)")

	root.AddCommand(newServeCmd(&configFile), newSeedCmd(&configFile))
	return root
}
