package motion

import (
	"sort"

	"github.com/andresmejia3/skyguard/internal/aggregate"
	"github.com/andresmejia3/skyguard/internal/types"
)

// CombinedEntry joins a label's threat summary with its motion statistics.
type CombinedEntry struct {
	Label             string
	Count             int
	DominantLevel     types.ThreatLevel
	MeanThreat        float64
	Pairs             int
	MeanSpeedNorm     float64
	MaxSpeedNorm      float64
	MovingThreatIndex float64
}

// Correlate inner-joins threat summaries with motion statistics by label and
// ranks the result by moving threat index, highest first, ties by label.
func Correlate(summaries []aggregate.LabelSummary, motion []Stats) []CombinedEntry {
	byLabel := make(map[string]aggregate.LabelSummary, len(summaries))
	for _, s := range summaries {
		byLabel[s.Label] = s
	}

	out := make([]CombinedEntry, 0, len(motion))
	for _, m := range motion {
		s, ok := byLabel[m.Label]
		if !ok {
			continue
		}
		out = append(out, CombinedEntry{
			Label:             m.Label,
			Count:             s.Count,
			DominantLevel:     s.DominantThreatLevel,
			MeanThreat:        s.MeanThreatScore,
			Pairs:             m.Pairs,
			MeanSpeedNorm:     m.MeanSpeedNorm,
			MaxSpeedNorm:      m.MaxSpeedNorm,
			MovingThreatIndex: s.MeanThreatScore * m.MeanSpeedNorm,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MovingThreatIndex != out[j].MovingThreatIndex {
			return out[i].MovingThreatIndex > out[j].MovingThreatIndex
		}
		return out[i].Label < out[j].Label
	})
	return out
}
