// Package threat scores individual detections: box geometry relative to the
// frame, a label safety tier, and the fixed-weight threat heuristic.
package threat

import (
	"math"

	"github.com/andresmejia3/skyguard/internal/types"
)

// Area returns the box area in pixels². Inverted, degenerate or non-numeric
// boxes have zero area.
func Area(b types.Box) float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if !(w > 0 && h > 0) {
		return 0
	}
	a := w * h
	if math.IsInf(a, 0) {
		return 0
	}
	return a
}

// AreaNorm returns the fraction of the frame covered by the box, capped at 1.
// A zero-area frame yields 0.
func AreaNorm(b types.Box, frame types.FrameGeometry) float64 {
	fa := frame.Area()
	if fa <= 0 {
		return 0
	}
	return clamp(Area(b)/fa, 0, 1)
}

// CenterProximity is 1 when the box center sits on the frame center and
// decays linearly to 0 at a normalized distance of 0.5.
func CenterProximity(b types.Box, frame types.FrameGeometry) float64 {
	if frame.Width <= 0 || frame.Height <= 0 {
		return 0
	}
	cx, cy := b.Center()
	dx := cx/float64(frame.Width) - 0.5
	dy := cy/float64(frame.Height) - 0.5
	dist := math.Hypot(dx, dy)
	return clamp(1-math.Min(dist/0.5, 1), 0, 1)
}

// clamp bounds v to [lo, hi]; NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v), v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
