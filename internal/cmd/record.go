package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var recordFailed bool

var recordCmd = &cobra.Command{
	Use:   "record <command line>",
	Short: "Feed an executed command into the learning engine",
	Long: `Feed an executed command into the learning engine.

Intended to be called from a shell hook after each command. The full
command line is taken from the arguments; exit status is reported with
--failed.

Examples:
  pscue record git status
  pscue record --failed -- make test`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().BoolVar(&recordFailed, "failed", false, "the command exited non-zero")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	line := strings.Join(args, " ")
	eng.CommandExecuted(args[0], line, args[1:], !recordFailed)
	return nil
}
