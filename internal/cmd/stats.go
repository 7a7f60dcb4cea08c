package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	statsJSON      bool
	statsWorkflows bool

	statsTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	statsLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(20)
	statsValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	statsDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show a summary of everything learned",
	Long: `Show a summary of everything learned: commands tracked, distinct
arguments, success rate, most common command, and learned workflows.

Examples:
  pscue stats
  pscue stats --workflows
  pscue stats --json`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
	statsCmd.Flags().BoolVar(&statsWorkflows, "workflows", false, "include learned workflows")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	stats := eng.Stats()

	if statsJSON {
		out := map[string]any{
			"totalCommands":   stats.History.TotalCommands,
			"uniqueCommands":  stats.History.UniqueVerbs,
			"uniqueArguments": stats.UniqueArguments,
			"successRate":     stats.History.SuccessRate,
			"mostCommonVerb":  stats.History.MostCommonVerb,
		}
		if statsWorkflows {
			out["workflows"] = stats.Workflows
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println(statsTitleStyle.Render("pscue"))

	row := func(label, value string) {
		fmt.Println(statsLabelStyle.Render(label) + statsValueStyle.Render(value))
	}
	row("Commands tracked", fmt.Sprintf("%d", stats.History.TotalCommands))
	row("Unique commands", fmt.Sprintf("%d", stats.History.UniqueVerbs))
	row("Unique arguments", fmt.Sprintf("%d", stats.UniqueArguments))
	row("Success rate", fmt.Sprintf("%.1f%%", stats.History.SuccessRate*100))
	if stats.History.MostCommonVerb != "" {
		row("Most common", stats.History.MostCommonVerb)
	}

	if statsWorkflows {
		fmt.Println()
		fmt.Println(statsTitleStyle.Render("Workflows"))
		if len(stats.Workflows) == 0 {
			fmt.Println(statsDimStyle.Render("  none learned yet"))
			return nil
		}
		for _, wf := range stats.Workflows {
			fmt.Printf("  %s %s\n",
				statsValueStyle.Render(strings.Join(wf.Steps, " → ")),
				statsDimStyle.Render(fmt.Sprintf("(%d runs, avg gap %s)", wf.Occurrences, wf.AvgStepGap.Round(time.Second))),
			)
		}
	}
	return nil
}
