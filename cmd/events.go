package cmd

import (
	"os"
	"sort"

	"github.com/andresmejia3/skyguard/internal/aggregate"
	"github.com/andresmejia3/skyguard/internal/records"
	"github.com/andresmejia3/skyguard/internal/utils"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events [events.csv]",
	Short: "Show per-label threat summaries from a scan, most frequent first",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := records.EventsPath(cfg.Output.CSV)
		if len(args) == 1 {
			path = args[0]
		}
		runEvents(path)
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(path string) {
	summaries, err := readFile(path, records.ReadSummaries)
	if err != nil {
		utils.Die("Failed to read label summaries", err, nil)
	}
	sortByCount(summaries)
	printSummaries(os.Stdout, summaries)
}

// sortByCount orders summaries by detection count, ties by label.
func sortByCount(summaries []aggregate.LabelSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].Count != summaries[j].Count {
			return summaries[i].Count > summaries[j].Count
		}
		return summaries[i].Label < summaries[j].Label
	})
}
