package threat

import "github.com/andresmejia3/skyguard/internal/types"

// Scoring weights and level thresholds.
const (
	WeightScore     = 0.55
	WeightArea      = 0.25
	WeightProximity = 0.10
	WeightSafety    = 0.10

	// areaGain saturates the size term once a box covers a quarter of the frame.
	areaGain = 4.0

	HighThreshold   = 0.65
	MediumThreshold = 0.35
)

// Metrics is the output of Score.
type Metrics struct {
	ThreatScore float64
	ThreatLevel types.ThreatLevel
	Area        float64
	AreaNorm    float64
}

// Score computes the threat metrics for one detection. It is a pure function
// of its inputs.
func Score(label string, confidence float64, box types.Box, frame types.FrameGeometry) Metrics {
	area := Area(box)
	areaNorm := AreaNorm(box, frame)

	scoreTerm := clamp(confidence, 0, 1)
	areaTerm := clamp(areaNorm*areaGain, 0, 1)
	proximityTerm := clamp(CenterProximity(box, frame), 0, 1)
	bias := SafetyBias(Classify(label))

	s := clamp(WeightScore*scoreTerm+
		WeightArea*areaTerm+
		WeightProximity*proximityTerm+
		WeightSafety*bias, 0, 1)

	return Metrics{
		ThreatScore: s,
		ThreatLevel: Level(s),
		Area:        area,
		AreaNorm:    areaNorm,
	}
}

// Level discretizes a threat score.
func Level(score float64) types.ThreatLevel {
	switch {
	case score >= HighThreshold:
		return types.ThreatHigh
	case score >= MediumThreshold:
		return types.ThreatMedium
	}
	return types.ThreatLow
}

// Enrich scores a raw detection against the geometry of its frame.
func Enrich(raw types.RawDetection, frame types.FrameGeometry) types.Detection {
	m := Score(raw.Label, raw.Score, raw.Box, frame)
	return types.Detection{
		RawDetection: raw,
		Area:         m.Area,
		AreaNorm:     m.AreaNorm,
		ThreatScore:  m.ThreatScore,
		ThreatLevel:  m.ThreatLevel,
	}
}
