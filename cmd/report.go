package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/skyguard/internal/aggregate"
	"github.com/andresmejia3/skyguard/internal/motion"
	"github.com/andresmejia3/skyguard/internal/types"
)

func printSummaries(out io.Writer, summaries []aggregate.LabelSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No detections.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tCOUNT\tLEVEL\tMEAN THREAT\tMAX THREAT\tMEAN SCORE\tLOW/MED/HIGH\tSEEN")
	fmt.Fprintln(w, "-----\t-----\t-----\t-----------\t----------\t----------\t------------\t----")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%.3f\t%.3f\t%.3f\t%d/%d/%d\t%s - %s\n",
			s.Label, s.Count, s.DominantThreatLevel, s.MeanThreatScore, s.MaxThreatScore, s.MeanScore,
			s.LevelCounts[types.ThreatLow], s.LevelCounts[types.ThreatMedium], s.LevelCounts[types.ThreatHigh],
			fmtTime(s.FirstTimestamp), fmtTime(s.LastTimestamp))
	}
	w.Flush()
}

func printRanking(out io.Writer, entries []motion.CombinedEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No label has enough motion pairs to rank.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tLABEL\tCOUNT\tLEVEL\tMEAN THREAT\tPAIRS\tMEAN SPEED\tMAX SPEED\tINDEX")
	fmt.Fprintln(w, "-\t-----\t-----\t-----\t-----------\t-----\t----------\t---------\t-----")
	for i, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%.3f\t%d\t%.3f\t%.3f\t%.4f\n",
			i+1, e.Label, e.Count, e.DominantLevel, e.MeanThreat, e.Pairs, e.MeanSpeedNorm, e.MaxSpeedNorm, e.MovingThreatIndex)
	}
	w.Flush()
}

func printMotion(out io.Writer, stats []motion.Stats) {
	if len(stats) == 0 {
		fmt.Fprintln(out, "No label has enough motion pairs.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tPAIRS\tMEAN PX/S\tMAX PX/S\tMEAN NORM/S\tMAX NORM/S")
	fmt.Fprintln(w, "-----\t-----\t---------\t--------\t-----------\t----------")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.3f\t%.3f\n",
			s.Label, s.Pairs, s.MeanSpeedPx, s.MaxSpeedPx, s.MeanSpeedNorm, s.MaxSpeedNorm)
	}
	w.Flush()
}

// writeFile creates path and hands it to write, reporting the first error.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// readFile opens path and hands it to read.
func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	v, err := read(f)
	if err != nil {
		return v, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
