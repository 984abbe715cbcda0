// Package motion estimates per-label speed from successive detections and
// ranks labels by combined threat and motion.
//
// The estimator has no notion of object identity: two consecutive detections
// sharing a label are treated as the same object, even when they are
// different physical objects. Speeds are therefore a measure of how dynamic a
// class is, not a per-object track.
package motion

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/andresmejia3/skyguard/internal/types"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxDt is the largest gap in seconds between two detections that may
// still be paired.
const DefaultMaxDt = 1.0

// Options configures an Estimator.
type Options struct {
	// MaxDt rejects pairs further apart than this many seconds. Zero means DefaultMaxDt.
	MaxDt float64
	// Frame, when non-empty, normalizes displacement by the true frame size
	// instead of the bounding rectangle of all observed boxes.
	Frame types.FrameGeometry
	// Workers bounds per-label parallelism in EstimateAll. Zero means unbounded.
	Workers int
}

// Stats summarizes the motion of one label.
type Stats struct {
	Label         string
	Pairs         int
	MeanSpeedNorm float64
	MaxSpeedNorm  float64
	MeanSpeedPx   float64
	MaxSpeedPx    float64
}

// Estimator computes Stats for individual label histories against a fixed
// reference frame size.
type Estimator struct {
	maxDt  float64
	width  float64
	height float64
}

// NewEstimator fixes the reference frame for a session. all is the complete
// detection set across every label.
func NewEstimator(all []types.Detection, opts Options) *Estimator {
	e := &Estimator{maxDt: opts.MaxDt}
	if e.maxDt <= 0 {
		e.maxDt = DefaultMaxDt
	}
	if opts.Frame.Width > 0 && opts.Frame.Height > 0 {
		e.width, e.height = float64(opts.Frame.Width), float64(opts.Frame.Height)
	} else {
		e.width, e.height = ReferenceFrame(all)
	}
	return e
}

// Reference returns the width and height used for normalization.
func (e *Estimator) Reference() (float64, float64) {
	return e.width, e.height
}

// ReferenceFrame approximates the frame size by the rectangle spanning every
// box, each side floored at 1.
func ReferenceFrame(all []types.Detection) (float64, float64) {
	if len(all) == 0 {
		return 1, 1
	}
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, d := range all {
		minX = math.Min(minX, d.X1)
		maxX = math.Max(maxX, d.X2)
		minY = math.Min(minY, d.Y1)
		maxY = math.Max(maxY, d.Y2)
	}
	w, h := maxX-minX, maxY-minY
	if !(w >= 1) {
		w = 1
	}
	if !(h >= 1) {
		h = 1
	}
	return w, h
}

// Estimate computes motion statistics over one label's full history. The
// second result is false when no pair qualified; that label has no motion
// estimate rather than a zero one.
func (e *Estimator) Estimate(history []types.Detection) (Stats, bool) {
	if len(history) < 2 {
		return Stats{}, false
	}

	sorted := make([]types.Detection, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].FrameIndex < sorted[j].FrameIndex
	})

	s := Stats{Label: sorted[0].Label}
	var sumNorm, sumPx float64
	for i := 1; i < len(sorted); i++ {
		prev, curr := sorted[i-1], sorted[i]
		dt := curr.Timestamp - prev.Timestamp
		if !(dt > 0 && dt <= e.maxDt) {
			continue
		}

		cx0, cy0 := prev.Center()
		cx1, cy1 := curr.Center()
		dx, dy := cx1-cx0, cy1-cy0

		speedPx := math.Hypot(dx, dy) / dt
		speedNorm := math.Hypot(dx/e.width, dy/e.height) / dt
		if math.IsNaN(speedNorm) || math.IsInf(speedNorm, 0) {
			continue
		}

		s.Pairs++
		sumNorm += speedNorm
		sumPx += speedPx
		s.MaxSpeedNorm = math.Max(s.MaxSpeedNorm, speedNorm)
		s.MaxSpeedPx = math.Max(s.MaxSpeedPx, speedPx)
	}

	if s.Pairs == 0 {
		return Stats{}, false
	}
	s.MeanSpeedNorm = sumNorm / float64(s.Pairs)
	s.MeanSpeedPx = sumPx / float64(s.Pairs)
	return s, true
}

// GroupByLabel splits detections into per-label histories, preserving order.
func GroupByLabel(all []types.Detection) map[string][]types.Detection {
	out := make(map[string][]types.Detection)
	for _, d := range all {
		out[d.Label] = append(out[d.Label], d)
	}
	return out
}

// EstimateAll runs the estimator over every label in all, one goroutine per
// label, and returns the labels with at least one valid pair sorted by label.
func EstimateAll(ctx context.Context, all []types.Detection, opts Options) ([]Stats, error) {
	e := NewEstimator(all, opts)
	groups := GroupByLabel(all)

	g, ctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}

	var mu sync.Mutex
	out := make([]Stats, 0, len(groups))
	for _, history := range groups {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, ok := e.Estimate(history)
			if !ok {
				return nil
			}
			mu.Lock()
			out = append(out, s)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}
