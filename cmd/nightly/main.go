package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "nightly",
		Short: "Nightly runner - builds and tests every repository branch that changed",
		Long: `Nightly runner discovers, plans, and executes build jobs across a fleet
of git repositories. Each cycle it syncs every configured repository,
selects the branches whose commits changed (adjusted by baseline/always/
never badges), runs "make nightly" per branch under a timeout, and posts
the results to each repository's notification channel.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default $NIGHTLY_CONF_FILE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
