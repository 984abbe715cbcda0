package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/skyguard/internal/motion"
	"github.com/andresmejia3/skyguard/internal/records"
	"github.com/andresmejia3/skyguard/internal/types"
	"github.com/andresmejia3/skyguard/internal/utils"
	"github.com/spf13/cobra"
)

var (
	tmMaxDt float64
	tmTopN  int
	tmOut   string
	tmFrame frameFlags
)

var threatMotionCmd = &cobra.Command{
	Use:   "threat-motion [events.csv] [detections.csv]",
	Short: "Rank labels by moving threat index (mean threat x mean speed)",
	Args:  cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		eventsPath := records.EventsPath(cfg.Output.CSV)
		detectionsPath := cfg.Output.CSV
		if len(args) > 0 {
			eventsPath = args[0]
		}
		if len(args) > 1 {
			detectionsPath = args[1]
		}
		maxDt := cfg.Motion.MaxDt
		if cmd.Flags().Changed("max-dt") {
			maxDt = tmMaxDt
		}

		frame, err := tmFrame.resolve(detectionsPath)
		if err != nil {
			utils.Die("Failed to read frame size", err, nil)
		}
		ranking, err := rankMovingThreats(cmd.Context(), eventsPath, detectionsPath, maxDt, frame)
		if err != nil {
			utils.Die("Threat-motion analysis failed", err, nil)
		}

		ranking = topN(ranking, tmTopN)
		printRanking(os.Stdout, ranking)

		if tmOut != "" {
			if err := writeFile(tmOut, func(w io.Writer) error { return records.WriteCombined(w, ranking) }); err != nil {
				utils.Die("Failed to write ranking", err, nil)
			}
			fmt.Fprintf(os.Stderr, "📝 Wrote %s\n", tmOut)
		}
	},
}

func init() {
	threatMotionCmd.Flags().Float64Var(&tmMaxDt, "max-dt", motion.DefaultMaxDt, "Max seconds between two detections paired for motion")
	threatMotionCmd.Flags().IntVar(&tmTopN, "top-n", 0, "Only show the top N labels (0 shows all)")
	threatMotionCmd.Flags().StringVar(&tmOut, "out", "", "Also write the ranking to this CSV")
	tmFrame.register(threatMotionCmd)
	rootCmd.AddCommand(threatMotionCmd)
}

// rankMovingThreats correlates persisted label summaries with motion
// re-estimated from the detections CSV.
func rankMovingThreats(ctx context.Context, eventsPath, detectionsPath string, maxDt float64, frame types.FrameGeometry) ([]motion.CombinedEntry, error) {
	summaries, err := readFile(eventsPath, records.ReadSummaries)
	if err != nil {
		return nil, err
	}
	stats, err := loadMotion(ctx, detectionsPath, maxDt, frame)
	if err != nil {
		return nil, err
	}
	return motion.Correlate(summaries, stats), nil
}

func topN(entries []motion.CombinedEntry, n int) []motion.CombinedEntry {
	if n > 0 && len(entries) > n {
		return entries[:n]
	}
	return entries
}
