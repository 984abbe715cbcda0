package threat

import (
	"math"
	"testing"

	"github.com/andresmejia3/skyguard/internal/types"
)

const epsilon = 1e-9

func TestArea(t *testing.T) {
	tests := []struct {
		name string
		box  types.Box
		want float64
	}{
		{"Regular box", types.Box{X1: 10, Y1: 10, X2: 20, Y2: 30}, 200},
		{"Inverted x", types.Box{X1: 20, Y1: 10, X2: 10, Y2: 30}, 0},
		{"Inverted y", types.Box{X1: 10, Y1: 30, X2: 20, Y2: 10}, 0},
		{"Zero width", types.Box{X1: 10, Y1: 10, X2: 10, Y2: 30}, 0},
		{"NaN coordinate", types.Box{X1: math.NaN(), Y1: 0, X2: 10, Y2: 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Area(tt.box); math.Abs(got-tt.want) > epsilon {
				t.Errorf("Area() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAreaNormBounds(t *testing.T) {
	boxes := []types.Box{
		{X1: 0, Y1: 0, X2: 10, Y2: 10},
		{X1: -500, Y1: -500, X2: 5000, Y2: 5000}, // larger than the frame
		{X1: 50, Y1: 50, X2: 40, Y2: 40},
		{X1: 0, Y1: 0, X2: 100, Y2: 100},
	}
	frames := []types.FrameGeometry{
		{Width: 100, Height: 100},
		{Width: 1920, Height: 1080},
		{Width: 1, Height: 1},
	}

	for _, b := range boxes {
		for _, f := range frames {
			got := AreaNorm(b, f)
			if got < 0 || got > 1 {
				t.Errorf("AreaNorm(%+v, %+v) = %v, outside [0,1]", b, f, got)
			}
		}
		for _, f := range []types.FrameGeometry{{Width: 0, Height: 0}, {Width: 0, Height: 100}, {Width: 100, Height: 0}, {Width: -5, Height: 10}} {
			if got := AreaNorm(b, f); got != 0 {
				t.Errorf("AreaNorm(%+v, %+v) = %v, want 0 for zero-area frame", b, f, got)
			}
		}
	}
}

func TestCenterProximity(t *testing.T) {
	frame := types.FrameGeometry{Width: 100, Height: 100}
	tests := []struct {
		name string
		box  types.Box
		want float64
	}{
		{"Centered", types.Box{X1: 45, Y1: 45, X2: 55, Y2: 55}, 1.0},
		{"Quarter distance", types.Box{X1: 70, Y1: 45, X2: 80, Y2: 55}, 0.5},
		{"Corner", types.Box{X1: 0, Y1: 0, X2: 0, Y2: 0}, 0.0},
		{"Far outside", types.Box{X1: 900, Y1: 900, X2: 910, Y2: 910}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CenterProximity(tt.box, frame); math.Abs(got-tt.want) > epsilon {
				t.Errorf("CenterProximity() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := CenterProximity(types.Box{X2: 10, Y2: 10}, types.FrameGeometry{}); got != 0 {
		t.Errorf("Expected 0 proximity for empty frame, got %v", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		label string
		want  types.SafetyTier
	}{
		{"drone", types.TierDanger},
		{"  Hang Glider ", types.TierDanger},
		{"AIRPLANE", types.TierDanger},
		{"car", types.TierMedium},
		{"parking meter", types.TierMedium},
		{"person", types.TierSafe},
		{"", types.TierSafe},
		{"drones", types.TierSafe},
		{"hang  glider", types.TierSafe},
	}

	for _, tt := range tests {
		if got := Classify(tt.label); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.label, got, tt.want)
		}
	}
}

func TestScoreCenteredCar(t *testing.T) {
	// area_norm = 1000/10000 = 0.1, centered on the frame.
	frame := types.FrameGeometry{Width: 100, Height: 100}
	box := types.Box{X1: 45, Y1: 0, X2: 55, Y2: 100}

	m := Score("car", 0.5, box, frame)

	if math.Abs(m.AreaNorm-0.1) > epsilon {
		t.Errorf("Expected area_norm 0.1, got %v", m.AreaNorm)
	}
	if math.Abs(m.Area-1000) > epsilon {
		t.Errorf("Expected area 1000, got %v", m.Area)
	}
	if math.Abs(m.ThreatScore-0.485) > epsilon {
		t.Errorf("Expected threat_score 0.485, got %v", m.ThreatScore)
	}
	if m.ThreatLevel != types.ThreatMedium {
		t.Errorf("Expected level medium, got %s", m.ThreatLevel)
	}
}

func TestScoreBoundsAndLevels(t *testing.T) {
	frames := []types.FrameGeometry{{Width: 100, Height: 100}, {Width: 0, Height: 0}, {Width: 640, Height: 480}}
	boxes := []types.Box{
		{X1: 0, Y1: 0, X2: 640, Y2: 480},
		{X1: 300, Y1: 220, X2: 340, Y2: 260},
		{X1: 10, Y1: 10, X2: 5, Y2: 5},
		{X1: math.Inf(-1), Y1: 0, X2: math.Inf(1), Y2: 10},
	}
	confidences := []float64{-1, 0, 0.35, 0.9, 1, 7, math.NaN()}
	labels := []string{"drone", "truck", "person", ""}

	for _, f := range frames {
		for _, b := range boxes {
			for _, c := range confidences {
				for _, l := range labels {
					m := Score(l, c, b, f)
					if m.ThreatScore < 0 || m.ThreatScore > 1 || math.IsNaN(m.ThreatScore) {
						t.Fatalf("Score(%q, %v, %+v, %+v) = %v, outside [0,1]", l, c, b, f, m.ThreatScore)
					}
					if m.ThreatLevel != Level(m.ThreatScore) {
						t.Fatalf("Level %s inconsistent with score %v", m.ThreatLevel, m.ThreatScore)
					}
					again := Score(l, c, b, f)
					if again != m {
						t.Fatalf("Score is not deterministic: %+v vs %+v", m, again)
					}
				}
			}
		}
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		score float64
		want  types.ThreatLevel
	}{
		{0, types.ThreatLow},
		{0.3499, types.ThreatLow},
		{0.35, types.ThreatMedium},
		{0.6499, types.ThreatMedium},
		{0.65, types.ThreatHigh},
		{1, types.ThreatHigh},
	}
	for _, tt := range tests {
		if got := Level(tt.score); got != tt.want {
			t.Errorf("Level(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestEnrich(t *testing.T) {
	raw := types.RawDetection{
		FrameIndex: 12,
		Timestamp:  0.4,
		Box:        types.Box{X1: 45, Y1: 45, X2: 55, Y2: 55},
		Score:      0.9,
		Label:      "drone",
	}
	det := Enrich(raw, types.FrameGeometry{Width: 100, Height: 100})

	if det.RawDetection != raw {
		t.Errorf("Enrich altered the raw fields: %+v", det.RawDetection)
	}
	// 0.55*0.9 + 0.25*0.04 + 0.10*1 + 0.10*0.2
	want := 0.495 + 0.01 + 0.1 + 0.02
	if math.Abs(det.ThreatScore-want) > epsilon {
		t.Errorf("Expected threat_score %v, got %v", want, det.ThreatScore)
	}
	if det.ThreatLevel != types.ThreatMedium {
		t.Errorf("Expected level medium, got %s", det.ThreatLevel)
	}
}
