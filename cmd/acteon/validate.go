package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"penserai/acteon/pkg/config"
	"penserai/acteon/pkg/rules/yamlrules"
)

var validateFlags struct {
	rulesDir string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and rule files",
	Long: `Validate the configuration file and parse every rule file in the
rules directory without starting the gateway.

Examples:
  # Validate the default config and its rules directory
  acteon validate

  # Validate a specific rules directory
  acteon validate --rules ./rules`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateFlags.rulesDir, "rules", "", "rules directory (defaults to the configured one)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	fmt.Printf("config %s: OK\n", cfgFile)

	dir := validateFlags.rulesDir
	if dir == "" {
		dir = cfg.Rules.Dir
	}
	rs, err := yamlrules.LoadDir(dir)
	if err != nil {
		return err
	}
	fmt.Printf("rules %s: OK (%d rules)\n", dir, len(rs))
	for _, r := range rs {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		fmt.Printf("  %4d  %-30s %-18s %s\n", r.Priority, r.Name, r.Action.Type, state)
	}
	return nil
}
