package records

import (
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/skyguard/internal/types"
	"github.com/goccy/go-json"
)

// jsonDetection mirrors types.Detection with pointer fields so absent keys
// can be told apart from zero values.
type jsonDetection struct {
	FrameIndex  *int     `json:"frame_index"`
	Timestamp   *float64 `json:"timestamp"`
	X1          *float64 `json:"x1"`
	Y1          *float64 `json:"y1"`
	X2          *float64 `json:"x2"`
	Y2          *float64 `json:"y2"`
	Score       *float64 `json:"score"`
	Label       *string  `json:"label"`
	Area        *float64 `json:"area"`
	AreaNorm    *float64 `json:"area_norm"`
	ThreatScore *float64 `json:"threat_score"`
	ThreatLevel *string  `json:"threat_level"`
}

// WriteDetectionsJSON writes detections as an indented JSON array. A nil or
// empty slice is written as [].
func WriteDetectionsJSON(w io.Writer, dets []types.Detection) error {
	if dets == nil {
		dets = []types.Detection{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(dets)
}

// ReadDetectionsJSON parses a JSON array of detection records. Every field is
// required; the element index is reported as the line.
func ReadDetectionsJSON(r io.Reader) ([]types.Detection, error) {
	var raw []jsonDetection
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return []types.Detection{}, nil
		}
		return nil, &RecordError{Err: fmt.Errorf("decode detections: %w", err)}
	}

	out := make([]types.Detection, 0, len(raw))
	for i, jd := range raw {
		d, err := jd.toDetection(i + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (jd jsonDetection) toDetection(line int) (types.Detection, error) {
	missing := func(field string) error { return &RecordError{Line: line, Field: field} }

	var d types.Detection
	if jd.FrameIndex == nil {
		return d, missing("frame_index")
	}
	if *jd.FrameIndex < 0 {
		return d, &RecordError{Line: line, Field: "frame_index", Err: errors.New("negative frame index")}
	}
	d.FrameIndex = *jd.FrameIndex

	floats := []struct {
		field string
		src   *float64
		dst   *float64
	}{
		{"timestamp", jd.Timestamp, &d.Timestamp},
		{"x1", jd.X1, &d.X1},
		{"y1", jd.Y1, &d.Y1},
		{"x2", jd.X2, &d.X2},
		{"y2", jd.Y2, &d.Y2},
		{"score", jd.Score, &d.Score},
		{"area", jd.Area, &d.Area},
		{"area_norm", jd.AreaNorm, &d.AreaNorm},
		{"threat_score", jd.ThreatScore, &d.ThreatScore},
	}
	for _, f := range floats {
		if f.src == nil {
			return d, missing(f.field)
		}
		*f.dst = *f.src
	}

	if jd.Label == nil || *jd.Label == "" {
		return d, missing("label")
	}
	d.Label = *jd.Label

	if jd.ThreatLevel == nil {
		return d, missing("threat_level")
	}
	lvl, ok := types.ParseThreatLevel(*jd.ThreatLevel)
	if !ok {
		return d, &RecordError{Line: line, Field: "threat_level", Err: fmt.Errorf("unknown threat level %q", *jd.ThreatLevel)}
	}
	d.ThreatLevel = lvl
	return d, nil
}
