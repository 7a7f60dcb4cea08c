package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var jumpList bool

var jumpCmd = &cobra.Command{
	Use:   "jump <query>",
	Short: "Find the best-matching visited directory",
	Long: `Find the best-matching visited directory for a query.

Matching is against the final path component: an exact match wins
outright, substring matches rank by overlap and frecency. Prints the
winning path for the shell to cd into.

Examples:
  cd "$(pscue jump api)"
  pscue jump --list proj`,
	Args: cobra.ExactArgs(1),
	RunE: runJump,
}

var jumpRecordCmd = &cobra.Command{
	Use:   "record <path>",
	Short: "Record a directory visit",
	Long: `Record a directory visit for frecency tracking.

Intended to be called from a shell hook on every directory change.`,
	Args: cobra.ExactArgs(1),
	RunE: runJumpRecord,
}

func init() {
	jumpCmd.Flags().BoolVar(&jumpList, "list", false, "list all matches with scores")
	jumpCmd.AddCommand(jumpRecordCmd)
	rootCmd.AddCommand(jumpCmd)
}

func runJump(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if jumpList {
		for _, c := range eng.JumpCandidates(args[0], 0) {
			fmt.Printf("%.3f  %s\n", c.Score, c.Path)
		}
		return nil
	}

	best, ok := eng.JumpTo(args[0])
	if !ok {
		return fmt.Errorf("no visited directory matches %q", args[0])
	}
	fmt.Println(best.Path)
	return nil
}

func runJumpRecord(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	eng.RecordJump(args[0])
	return nil
}
