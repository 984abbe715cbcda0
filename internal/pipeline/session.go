// Package pipeline turns a stream of detector output into a scored session:
// per-detection threat, per-label summaries and the moving-threat ranking.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresmejia3/skyguard/internal/aggregate"
	"github.com/andresmejia3/skyguard/internal/logging"
	"github.com/andresmejia3/skyguard/internal/metrics"
	"github.com/andresmejia3/skyguard/internal/motion"
	"github.com/andresmejia3/skyguard/internal/threat"
	"github.com/andresmejia3/skyguard/internal/types"
	"github.com/google/uuid"
)

// LogEvery is the number of frames between two progress log lines.
const LogEvery = 30

// Detector finds objects in one encoded frame.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]types.RawDetection, error)
}

// Sink receives every scored detection as soon as it is produced.
type Sink interface {
	Write(d types.Detection) error
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Frame types.FrameGeometry
	// TargetClasses keeps only these labels (case-insensitive). Empty keeps all.
	TargetClasses []string
	Sink          Sink
}

// Result is everything a finished session produced.
type Result struct {
	SessionID  uuid.UUID
	Frames     int
	Detections []types.Detection
	Summaries  []aggregate.LabelSummary
	Motion     []motion.Stats
	Ranking    []motion.CombinedEntry
}

// Session consumes frames strictly in order. It is owned by a single
// goroutine and must not be shared.
type Session struct {
	ID      uuid.UUID
	frame   types.FrameGeometry
	targets map[string]struct{}
	sink    Sink
	agg     *aggregate.Aggregator
	history []types.Detection
	frames  int
}

// NewSession starts an empty session with a fresh ID.
func NewSession(opts SessionOptions) *Session {
	s := &Session{
		ID:    uuid.New(),
		frame: opts.Frame,
		sink:  opts.Sink,
		agg:   aggregate.New(),
	}
	if len(opts.TargetClasses) > 0 {
		s.targets = make(map[string]struct{}, len(opts.TargetClasses))
		for _, c := range opts.TargetClasses {
			if c = normalizeLabel(c); c != "" {
				s.targets[c] = struct{}{}
			}
		}
	}
	return s
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func (s *Session) wanted(label string) bool {
	if len(s.targets) == 0 {
		return true
	}
	_, ok := s.targets[normalizeLabel(label)]
	return ok
}

// ObserveFrame scores and aggregates the detections of one frame. The frame
// index and timestamp override whatever the detector put in raws.
func (s *Session) ObserveFrame(index int, timestamp float64, raws []types.RawDetection) ([]types.Detection, error) {
	s.frames++
	metrics.FramesProcessed.Inc()

	var scored []types.Detection
	for _, raw := range raws {
		if strings.TrimSpace(raw.Label) == "" {
			// An unlabeled detection cannot be aggregated or read back.
			logging.Warn().Str("session", s.ID.String()).Int("frame", index).Msg("dropping detection without label")
			continue
		}
		if !s.wanted(raw.Label) {
			continue
		}
		raw.FrameIndex = index
		raw.Timestamp = timestamp
		d := threat.Enrich(raw, s.frame)

		s.agg.Observe(d)
		s.history = append(s.history, d)
		metrics.RecordDetection(string(d.ThreatLevel))

		if s.sink != nil {
			if err := s.sink.Write(d); err != nil {
				return scored, fmt.Errorf("write detection for frame %d: %w", index, err)
			}
		}
		scored = append(scored, d)
	}
	metrics.ActiveLabels.Set(float64(s.agg.Labels()))

	if s.frames%LogEvery == 0 {
		logging.Info().
			Str("session", s.ID.String()).
			Int("frame", index).
			Float64("t", timestamp).
			Int("detections", s.agg.Observed()).
			Int("labels", s.agg.Labels()).
			Msg("scan progress")
	}
	return scored, nil
}

// Frames returns the number of frames observed so far.
func (s *Session) Frames() int { return s.frames }

// Detections returns the scored history in observation order.
func (s *Session) Detections() []types.Detection { return s.history }

// Finish runs the batch motion analysis over the whole history and
// correlates it with the label summaries.
func (s *Session) Finish(ctx context.Context, maxDt float64) (*Result, error) {
	summaries := s.agg.Finalize()
	stats, err := motion.EstimateAll(ctx, s.history, motion.Options{MaxDt: maxDt, Frame: s.frame})
	if err != nil {
		return nil, fmt.Errorf("estimate motion: %w", err)
	}
	return &Result{
		SessionID:  s.ID,
		Frames:     s.frames,
		Detections: s.history,
		Summaries:  summaries,
		Motion:     stats,
		Ranking:    motion.Correlate(summaries, stats),
	}, nil
}
