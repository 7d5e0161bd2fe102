// Package cli implements the swarmgate command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "swarmgate",
	Short: "Safety gate and coordination-evidence core for agent swarms",
	Long:  "Validates every agent action against the rules of engagement, holds sensitive actions for human authorization, drives the tri-path kill switch, and records tamper-evident decision evidence.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to engagement config YAML (default ~/.swarmgate/config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
