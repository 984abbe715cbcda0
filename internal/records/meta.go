package records

import (
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/skyguard/internal/types"
	"github.com/goccy/go-json"
)

// FrameMeta is the sidecar written next to a detections CSV. It carries the
// frame size motion was normalized by, so offline analysis of the same file
// reproduces the scan's ranking.
type FrameMeta struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

// Geometry returns the frame size as a FrameGeometry.
func (m FrameMeta) Geometry() types.FrameGeometry {
	return types.FrameGeometry{Width: m.Width, Height: m.Height}
}

// WriteFrameMeta writes m as indented JSON.
func WriteFrameMeta(w io.Writer, m FrameMeta) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// ReadFrameMeta parses a frame sidecar. Width and height are required and
// must not be negative; zero means the size was unknown.
func ReadFrameMeta(r io.Reader) (FrameMeta, error) {
	var raw struct {
		Width  *int     `json:"width"`
		Height *int     `json:"height"`
		FPS    *float64 `json:"fps"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return FrameMeta{}, &RecordError{Line: 1, Err: fmt.Errorf("decode frame meta: %w", err)}
	}
	if raw.Width == nil {
		return FrameMeta{}, &RecordError{Line: 1, Field: "width"}
	}
	if raw.Height == nil {
		return FrameMeta{}, &RecordError{Line: 1, Field: "height"}
	}
	if *raw.Width < 0 || *raw.Height < 0 {
		return FrameMeta{}, &RecordError{Line: 1, Err: errors.New("negative frame size")}
	}
	m := FrameMeta{Width: *raw.Width, Height: *raw.Height}
	if raw.FPS != nil {
		m.FPS = *raw.FPS
	}
	return m, nil
}
