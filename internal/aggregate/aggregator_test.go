package aggregate

import (
	"math"
	"testing"

	"github.com/andresmejia3/skyguard/internal/types"
)

func det(label string, frame int, ts, score, threat float64, level types.ThreatLevel) types.Detection {
	return types.Detection{
		RawDetection: types.RawDetection{
			FrameIndex: frame,
			Timestamp:  ts,
			Box:        types.Box{X1: 0, Y1: 0, X2: 10, Y2: 10},
			Score:      score,
			Label:      label,
		},
		ThreatScore: threat,
		ThreatLevel: level,
	}
}

func TestFinalizeEmpty(t *testing.T) {
	a := New()
	got := a.Finalize()
	if got == nil {
		t.Fatal("Expected non-nil empty summary set")
	}
	if len(got) != 0 {
		t.Errorf("Expected 0 summaries, got %d", len(got))
	}
}

func TestObserveStatistics(t *testing.T) {
	a := New()
	a.Observe(det("drone", 5, 0.5, 0.6, 0.7, types.ThreatHigh))
	a.Observe(det("drone", 2, 0.2, 0.9, 0.5, types.ThreatMedium))
	a.Observe(det("drone", 9, 0.9, 0.3, 0.2, types.ThreatLow))
	a.Observe(det("car", 3, 0.3, 0.4, 0.4, types.ThreatMedium))

	got := a.Finalize()
	if len(got) != 2 {
		t.Fatalf("Expected 2 labels, got %d", len(got))
	}
	if got[0].Label != "car" || got[1].Label != "drone" {
		t.Fatalf("Expected summaries sorted by label, got %s, %s", got[0].Label, got[1].Label)
	}

	d := got[1]
	if d.Count != 3 {
		t.Errorf("Expected count 3, got %d", d.Count)
	}
	if d.FirstFrameIndex != 2 || d.LastFrameIndex != 9 {
		t.Errorf("Expected frame range [2,9], got [%d,%d]", d.FirstFrameIndex, d.LastFrameIndex)
	}
	if d.FirstTimestamp != 0.2 || d.LastTimestamp != 0.9 {
		t.Errorf("Expected timestamp range [0.2,0.9], got [%v,%v]", d.FirstTimestamp, d.LastTimestamp)
	}
	if d.MinScore != 0.3 || d.MaxScore != 0.9 {
		t.Errorf("Expected score range [0.3,0.9], got [%v,%v]", d.MinScore, d.MaxScore)
	}
	if math.Abs(d.MeanScore-0.6) > 1e-9 {
		t.Errorf("Expected mean score 0.6, got %v", d.MeanScore)
	}
	if d.MaxThreatScore != 0.7 {
		t.Errorf("Expected max threat 0.7, got %v", d.MaxThreatScore)
	}
	if math.Abs(d.MeanThreatScore-(0.7+0.5+0.2)/3) > 1e-9 {
		t.Errorf("Unexpected mean threat %v", d.MeanThreatScore)
	}
	// One of each level: the tie resolves to low.
	if d.DominantThreatLevel != types.ThreatLow {
		t.Errorf("Expected dominant level low, got %s", d.DominantThreatLevel)
	}
	if d.LevelCounts[types.ThreatHigh] != 1 {
		t.Errorf("Expected 1 high detection, got %d", d.LevelCounts[types.ThreatHigh])
	}
}

func TestCountInvariant(t *testing.T) {
	a := New()
	labels := []string{"bird", "car", "drone", "person", "kite"}
	levels := types.ThreatLevels
	const n = 1000
	for i := 0; i < n; i++ {
		a.Observe(det(labels[i%len(labels)], i, float64(i)/30, float64(i%10)/10, float64(i%7)/7, levels[i%3]))
	}

	if a.Observed() != n {
		t.Errorf("Expected %d observed, got %d", n, a.Observed())
	}

	total := 0
	for _, s := range a.Finalize() {
		total += s.Count
		if s.FirstFrameIndex > s.LastFrameIndex {
			t.Errorf("%s: first frame %d > last frame %d", s.Label, s.FirstFrameIndex, s.LastFrameIndex)
		}
		if s.FirstTimestamp > s.LastTimestamp {
			t.Errorf("%s: first timestamp %v > last timestamp %v", s.Label, s.FirstTimestamp, s.LastTimestamp)
		}
	}
	if total != n {
		t.Errorf("Sum of per-label counts = %d, want %d", total, n)
	}
}

func TestDominantLevel(t *testing.T) {
	tests := []struct {
		name   string
		counts [3]int
		want   types.ThreatLevel
	}{
		{"Low and medium tie", [3]int{2, 2, 0}, types.ThreatLow},
		{"Medium and high tie", [3]int{0, 3, 3}, types.ThreatMedium},
		{"All zero", [3]int{0, 0, 0}, types.ThreatLow},
		{"High wins", [3]int{1, 1, 4}, types.ThreatHigh},
		{"Low and high tie", [3]int{5, 0, 5}, types.ThreatLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DominantLevel(tt.counts); got != tt.want {
				t.Errorf("DominantLevel(%v) = %s, want %s", tt.counts, got, tt.want)
			}
		})
	}
}

func TestDominantLevelTieFromStream(t *testing.T) {
	a := New()
	a.Observe(det("bird", 1, 0.1, 0.5, 0.6, types.ThreatMedium))
	a.Observe(det("bird", 2, 0.2, 0.5, 0.1, types.ThreatLow))
	a.Observe(det("bird", 3, 0.3, 0.5, 0.6, types.ThreatMedium))
	a.Observe(det("bird", 4, 0.4, 0.5, 0.1, types.ThreatLow))

	got := a.Finalize()
	if got[0].DominantThreatLevel != types.ThreatLow {
		t.Errorf("Expected low on a 2/2 tie, got %s", got[0].DominantThreatLevel)
	}
}
