// Command oemwatchd watches automotive OEM marketing sites for pricing,
// offer, and banner changes and posts alerts when something meaningful
// moves. Run `oemwatchd run` to start the daemon, `oemwatchd migrate` to
// apply pending database migrations without starting the scheduler, or
// `oemwatchd discover` to bootstrap selector discovery for every active
// tenant before the first scheduled crawl.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "oemwatchd",
		Short: "Multi-tenant OEM site monitoring daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the daemon's YAML config file")

	root.AddCommand(newRunCommand(&configPath))
	root.AddCommand(newMigrateCommand(&configPath))
	root.AddCommand(newDiscoverCommand(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
