package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	suggestLimit  int
	suggestFormat string
)

var suggestCmd = &cobra.Command{
	Use:   "suggest [partial]",
	Short: "Rank completions for the current partial command line",
	Long: `Rank completions for the current partial command line.

Designed for shell integration: fast, one suggestion per line. After a
value-taking flag the learned values for that flag are returned instead
of generic arguments.

Examples:
  pscue suggest "git "             # ranked arguments for git
  pscue suggest "git ch"           # arguments starting with "ch"
  pscue suggest "git commit -m "   # learned commit messages
  pscue suggest --limit 5 --format json "docker "`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSuggest,
}

func init() {
	suggestCmd.Flags().IntVarP(&suggestLimit, "limit", "n", 0, "maximum number of suggestions (0 = configured default)")
	suggestCmd.Flags().StringVar(&suggestFormat, "format", "text", "output format: text or json")
	rootCmd.AddCommand(suggestCmd)
}

func runSuggest(cmd *cobra.Command, args []string) error {
	partial := ""
	if len(args) > 0 {
		partial = args[0]
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	sugs := eng.Suggest(partial, suggestLimit)

	switch suggestFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sugs)
	case "text":
		for _, s := range sugs {
			fmt.Println(s.Text)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text or json)", suggestFormat)
	}
}
