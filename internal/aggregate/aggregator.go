// Package aggregate folds a stream of scored detections into per-label
// running statistics without retaining the stream itself.
package aggregate

import (
	"sort"

	"github.com/andresmejia3/skyguard/internal/types"
)

// labelStats is the running state for one label.
type labelStats struct {
	count          int
	firstFrame     int
	lastFrame      int
	firstTimestamp float64
	lastTimestamp  float64
	minScore       float64
	maxScore       float64
	scoreSum       float64
	maxThreatScore float64
	threatScoreSum float64
	levelCounts    [len(types.ThreatLevels)]int
}

func newLabelStats(d types.Detection) *labelStats {
	return &labelStats{
		firstFrame:     d.FrameIndex,
		lastFrame:      d.FrameIndex,
		firstTimestamp: d.Timestamp,
		lastTimestamp:  d.Timestamp,
		minScore:       d.Score,
		maxScore:       d.Score,
		maxThreatScore: d.ThreatScore,
	}
}

func (s *labelStats) add(d types.Detection) {
	s.count++
	s.firstFrame = min(s.firstFrame, d.FrameIndex)
	s.lastFrame = max(s.lastFrame, d.FrameIndex)
	s.firstTimestamp = min(s.firstTimestamp, d.Timestamp)
	s.lastTimestamp = max(s.lastTimestamp, d.Timestamp)
	s.minScore = min(s.minScore, d.Score)
	s.maxScore = max(s.maxScore, d.Score)
	s.scoreSum += d.Score
	s.maxThreatScore = max(s.maxThreatScore, d.ThreatScore)
	s.threatScoreSum += d.ThreatScore
	if i := d.ThreatLevel.Index(); i >= 0 {
		s.levelCounts[i]++
	}
}

// LabelSummary is the finalized view of one label's statistics.
type LabelSummary struct {
	Label               string
	Count               int
	FirstFrameIndex     int
	LastFrameIndex      int
	FirstTimestamp      float64
	LastTimestamp       float64
	MinScore            float64
	MaxScore            float64
	MeanScore           float64
	MaxThreatScore      float64
	MeanThreatScore     float64
	DominantThreatLevel types.ThreatLevel
	LevelCounts         map[types.ThreatLevel]int
}

// Aggregator maintains one running aggregate per label. It is not safe for
// concurrent use; a single consumer must call Observe.
type Aggregator struct {
	stats    map[string]*labelStats
	observed int
}

// New returns an empty aggregator for one session.
func New() *Aggregator {
	return &Aggregator{stats: make(map[string]*labelStats)}
}

// Observe folds one detection into its label's aggregate in O(1).
func (a *Aggregator) Observe(d types.Detection) {
	s, ok := a.stats[d.Label]
	if !ok {
		s = newLabelStats(d)
		a.stats[d.Label] = s
	}
	s.add(d)
	a.observed++
}

// Observed returns the number of detections folded so far.
func (a *Aggregator) Observed() int {
	return a.observed
}

// Labels returns the number of distinct labels seen.
func (a *Aggregator) Labels() int {
	return len(a.stats)
}

// Finalize derives means and dominant levels and returns one summary per
// label, sorted by label. An aggregator that observed nothing returns an
// empty, non-nil slice.
func (a *Aggregator) Finalize() []LabelSummary {
	labels := make([]string, 0, len(a.stats))
	for l := range a.stats {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	out := make([]LabelSummary, 0, len(labels))
	for _, l := range labels {
		s := a.stats[l]
		sum := LabelSummary{
			Label:               l,
			Count:               s.count,
			FirstFrameIndex:     s.firstFrame,
			LastFrameIndex:      s.lastFrame,
			FirstTimestamp:      s.firstTimestamp,
			LastTimestamp:       s.lastTimestamp,
			MinScore:            s.minScore,
			MaxScore:            s.maxScore,
			MaxThreatScore:      s.maxThreatScore,
			DominantThreatLevel: DominantLevel(s.levelCounts),
			LevelCounts:         make(map[types.ThreatLevel]int, len(types.ThreatLevels)),
		}
		if s.count > 0 {
			sum.MeanScore = s.scoreSum / float64(s.count)
			sum.MeanThreatScore = s.threatScoreSum / float64(s.count)
		}
		for i, lvl := range types.ThreatLevels {
			sum.LevelCounts[lvl] = s.levelCounts[i]
		}
		out = append(out, sum)
	}
	return out
}

// DominantLevel returns the level with the highest tally. Levels are scanned
// low, medium, high and the first maximum wins, so ties resolve towards low.
func DominantLevel(counts [len(types.ThreatLevels)]int) types.ThreatLevel {
	best := 0
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return types.ThreatLevels[best]
}
