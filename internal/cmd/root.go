// Package cmd implements the pscue command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pscue",
	Short: "adaptive command-line prediction from your shell history",
	Long: `pscue learns from the commands you run and predicts what comes next:
  - ranked argument and flag suggestions per command
  - learned values for value-taking flags (-m, --output, ...)
  - workflow-aware boosts from your recent command sequence
  - frecency-ranked directory jumping`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
