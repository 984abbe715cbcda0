package types

// FrameTask represents a single frame sent to a worker for processing
type FrameTask struct {
	Index     int
	Timestamp float64
	Data      []byte
}

// Box is an axis-aligned bounding box in frame pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the box center in pixels.
func (b Box) Center() (float64, float64) {
	return 0.5 * (b.X1 + b.X2), 0.5 * (b.Y1 + b.Y2)
}

// RawDetection is one object reported by the detector for one frame.
type RawDetection struct {
	FrameIndex int     `json:"frame_index"`
	Timestamp  float64 `json:"timestamp"`
	Box
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// FrameGeometry holds the pixel dimensions of a processed frame.
type FrameGeometry struct {
	Width  int
	Height int
}

// Area returns width*height, treating negative dimensions as zero.
func (f FrameGeometry) Area() float64 {
	return float64(max(0, f.Width) * max(0, f.Height))
}

// ThreatLevel is the discretized threat score.
type ThreatLevel string

const (
	ThreatLow    ThreatLevel = "low"
	ThreatMedium ThreatLevel = "medium"
	ThreatHigh   ThreatLevel = "high"
)

// ThreatLevels lists the levels in tally scan order. Dominant-level
// resolution depends on this order.
var ThreatLevels = [...]ThreatLevel{ThreatLow, ThreatMedium, ThreatHigh}

// Index returns the position of l in ThreatLevels, or -1 if unknown.
func (l ThreatLevel) Index() int {
	for i, lvl := range ThreatLevels {
		if lvl == l {
			return i
		}
	}
	return -1
}

// ParseThreatLevel validates a persisted threat level string.
func ParseThreatLevel(s string) (ThreatLevel, bool) {
	l := ThreatLevel(s)
	return l, l.Index() >= 0
}

// SafetyTier is the label-based scoring bias category.
type SafetyTier string

const (
	TierDanger SafetyTier = "danger"
	TierMedium SafetyTier = "medium"
	TierSafe   SafetyTier = "safe"
)

// Detection is a RawDetection enriched with geometry and threat metrics.
type Detection struct {
	RawDetection
	Area        float64     `json:"area"`
	AreaNorm    float64     `json:"area_norm"`
	ThreatScore float64     `json:"threat_score"`
	ThreatLevel ThreatLevel `json:"threat_level"`
}

// ErrorResult captures the error object returned by the detector on failure
type ErrorResult struct {
	Error string `json:"error"`
}
