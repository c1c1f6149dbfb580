package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "acteon",
	Short: "Acteon - multi-tenant action dispatch gateway",
	Long: `Acteon dispatches actions through a rule-governed pipeline: each
action is locked, checked against tenant quotas, evaluated against a
prioritized rule set, and executed against its provider, producing one
auditable outcome.

Rules can allow, deny, deduplicate, suppress, reroute, throttle,
modify or escalate actions, and reload without a restart.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
}
