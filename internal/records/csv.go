// Package records defines the persisted record schemas for detections, label
// summaries and moving-threat rankings, with CSV and JSON codecs.
package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/andresmejia3/skyguard/internal/aggregate"
	"github.com/andresmejia3/skyguard/internal/motion"
	"github.com/andresmejia3/skyguard/internal/types"
)

// Column sets, in output order.
var (
	DetectionHeader = []string{
		"frame_index", "timestamp", "x1", "y1", "x2", "y2", "score", "label",
		"area", "area_norm", "threat_score", "threat_level",
	}
	SummaryHeader = []string{
		"label", "count", "first_frame_index", "last_frame_index",
		"first_timestamp", "last_timestamp", "min_score", "max_score", "mean_score",
		"max_threat_score", "mean_threat_score", "dominant_threat_level",
	}
	CombinedHeader = []string{
		"label", "count", "dominant_level", "mean_threat", "pairs",
		"mean_speed_norm", "max_speed_norm", "moving_threat_index",
	}
)

// EventsPath derives the label summary path from a detections CSV path.
func EventsPath(csvPath string) string {
	return derivePath(csvPath, "_events.csv")
}

// ThreatMotionPath derives the moving-threat ranking path from a detections CSV path.
func ThreatMotionPath(csvPath string) string {
	return derivePath(csvPath, "_threat_motion.csv")
}

// FrameMetaPath derives the frame geometry sidecar path from a detections CSV path.
func FrameMetaPath(csvPath string) string {
	return derivePath(csvPath, "_frame.json")
}

func derivePath(csvPath, suffix string) string {
	if strings.HasSuffix(strings.ToLower(csvPath), ".csv") {
		return csvPath[:len(csvPath)-4] + suffix
	}
	return csvPath + suffix
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DetectionWriter streams detection records as CSV. The header is written on
// creation so an empty session still yields a well-formed file.
type DetectionWriter struct {
	w *csv.Writer
}

// NewDetectionWriter writes the header and returns a writer for rows.
func NewDetectionWriter(w io.Writer) (*DetectionWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(DetectionHeader); err != nil {
		return nil, err
	}
	return &DetectionWriter{w: cw}, nil
}

// Write appends one detection.
func (dw *DetectionWriter) Write(d types.Detection) error {
	return dw.w.Write([]string{
		strconv.Itoa(d.FrameIndex),
		formatFloat(d.Timestamp),
		formatFloat(d.X1),
		formatFloat(d.Y1),
		formatFloat(d.X2),
		formatFloat(d.Y2),
		formatFloat(d.Score),
		d.Label,
		formatFloat(d.Area),
		formatFloat(d.AreaNorm),
		formatFloat(d.ThreatScore),
		string(d.ThreatLevel),
	})
}

// Flush writes buffered rows and reports any write error.
func (dw *DetectionWriter) Flush() error {
	dw.w.Flush()
	return dw.w.Error()
}

// WriteDetections writes a complete detections CSV.
func WriteDetections(w io.Writer, dets []types.Detection) error {
	dw, err := NewDetectionWriter(w)
	if err != nil {
		return err
	}
	for _, d := range dets {
		if err := dw.Write(d); err != nil {
			return err
		}
	}
	return dw.Flush()
}

// WriteSummaries writes label summary records.
func WriteSummaries(w io.Writer, summaries []aggregate.LabelSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryHeader); err != nil {
		return err
	}
	for _, s := range summaries {
		if err := cw.Write([]string{
			s.Label,
			strconv.Itoa(s.Count),
			strconv.Itoa(s.FirstFrameIndex),
			strconv.Itoa(s.LastFrameIndex),
			formatFloat(s.FirstTimestamp),
			formatFloat(s.LastTimestamp),
			formatFloat(s.MinScore),
			formatFloat(s.MaxScore),
			formatFloat(s.MeanScore),
			formatFloat(s.MaxThreatScore),
			formatFloat(s.MeanThreatScore),
			string(s.DominantThreatLevel),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCombined writes moving-threat ranking records.
func WriteCombined(w io.Writer, entries []motion.CombinedEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CombinedHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{
			e.Label,
			strconv.Itoa(e.Count),
			string(e.DominantLevel),
			formatFloat(e.MeanThreat),
			strconv.Itoa(e.Pairs),
			formatFloat(e.MeanSpeedNorm),
			formatFloat(e.MaxSpeedNorm),
			formatFloat(e.MovingThreatIndex),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// rowReader maps a CSV header to column positions and parses typed fields,
// turning every failure into a RecordError.
type rowReader struct {
	r    *csv.Reader
	cols map[string]int
	row  []string
	line int
}

func newRowReader(r io.Reader, required []string) (*rowReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &RecordError{Line: 1, Err: errors.New("missing header")}
		}
		return nil, &RecordError{Line: 1, Err: err}
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, &RecordError{Line: 1, Field: name}
		}
	}
	return &rowReader{r: cr, cols: cols, line: 1}, nil
}

// next advances to the following row, returning io.EOF at the end.
func (rr *rowReader) next() error {
	row, err := rr.r.Read()
	if err == io.EOF {
		return io.EOF
	}
	rr.line++
	if err != nil {
		return &RecordError{Line: rr.line, Err: err}
	}
	rr.row = row
	return nil
}

func (rr *rowReader) str(field string) (string, error) {
	i := rr.cols[field]
	if i >= len(rr.row) {
		return "", &RecordError{Line: rr.line, Field: field}
	}
	return rr.row[i], nil
}

func (rr *rowReader) nonEmpty(field string) (string, error) {
	s, err := rr.str(field)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", &RecordError{Line: rr.line, Field: field}
	}
	return s, nil
}

func (rr *rowReader) floatField(field string) (float64, error) {
	s, err := rr.nonEmpty(field)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &RecordError{Line: rr.line, Field: field, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &RecordError{Line: rr.line, Field: field, Err: fmt.Errorf("non-finite value %q", s)}
	}
	return v, nil
}

func (rr *rowReader) intField(field string) (int, error) {
	s, err := rr.nonEmpty(field)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &RecordError{Line: rr.line, Field: field, Err: err}
	}
	return v, nil
}

func (rr *rowReader) levelField(field string) (types.ThreatLevel, error) {
	s, err := rr.nonEmpty(field)
	if err != nil {
		return "", err
	}
	lvl, ok := types.ParseThreatLevel(strings.TrimSpace(s))
	if !ok {
		return "", &RecordError{Line: rr.line, Field: field, Err: fmt.Errorf("unknown threat level %q", s)}
	}
	return lvl, nil
}

// DetectionReader parses detection records one row at a time.
type DetectionReader struct {
	rr *rowReader
}

// NewDetectionReader validates the header of a detections CSV.
func NewDetectionReader(r io.Reader) (*DetectionReader, error) {
	rr, err := newRowReader(r, DetectionHeader)
	if err != nil {
		return nil, err
	}
	return &DetectionReader{rr: rr}, nil
}

// Read returns the next detection, or io.EOF when the input is exhausted.
func (dr *DetectionReader) Read() (types.Detection, error) {
	if err := dr.rr.next(); err != nil {
		return types.Detection{}, err
	}
	rr := dr.rr

	var d types.Detection
	var err error
	if d.FrameIndex, err = rr.intField("frame_index"); err != nil {
		return d, err
	}
	if d.FrameIndex < 0 {
		return d, &RecordError{Line: rr.line, Field: "frame_index", Err: errors.New("negative frame index")}
	}
	floats := []struct {
		field string
		dst   *float64
	}{
		{"timestamp", &d.Timestamp},
		{"x1", &d.X1},
		{"y1", &d.Y1},
		{"x2", &d.X2},
		{"y2", &d.Y2},
		{"score", &d.Score},
		{"area", &d.Area},
		{"area_norm", &d.AreaNorm},
		{"threat_score", &d.ThreatScore},
	}
	for _, f := range floats {
		if *f.dst, err = rr.floatField(f.field); err != nil {
			return d, err
		}
	}
	if d.Label, err = rr.nonEmpty("label"); err != nil {
		return d, err
	}
	if d.ThreatLevel, err = rr.levelField("threat_level"); err != nil {
		return d, err
	}
	return d, nil
}

// ReadDetections parses a complete detections CSV.
func ReadDetections(r io.Reader) ([]types.Detection, error) {
	dr, err := NewDetectionReader(r)
	if err != nil {
		return nil, err
	}
	out := []types.Detection{}
	for {
		d, err := dr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
}

// ReadSummaries parses a label summary CSV. Per-level tallies are not part of
// the persisted schema and stay nil.
func ReadSummaries(r io.Reader) ([]aggregate.LabelSummary, error) {
	rr, err := newRowReader(r, SummaryHeader)
	if err != nil {
		return nil, err
	}

	out := []aggregate.LabelSummary{}
	for {
		if err := rr.next(); err == io.EOF {
			return out, nil
		} else if err != nil {
			return nil, err
		}

		var s aggregate.LabelSummary
		if s.Label, err = rr.nonEmpty("label"); err != nil {
			return nil, err
		}
		ints := []struct {
			field string
			dst   *int
		}{
			{"count", &s.Count},
			{"first_frame_index", &s.FirstFrameIndex},
			{"last_frame_index", &s.LastFrameIndex},
		}
		for _, f := range ints {
			if *f.dst, err = rr.intField(f.field); err != nil {
				return nil, err
			}
		}
		floats := []struct {
			field string
			dst   *float64
		}{
			{"first_timestamp", &s.FirstTimestamp},
			{"last_timestamp", &s.LastTimestamp},
			{"min_score", &s.MinScore},
			{"max_score", &s.MaxScore},
			{"mean_score", &s.MeanScore},
			{"max_threat_score", &s.MaxThreatScore},
			{"mean_threat_score", &s.MeanThreatScore},
		}
		for _, f := range floats {
			if *f.dst, err = rr.floatField(f.field); err != nil {
				return nil, err
			}
		}
		if s.DominantThreatLevel, err = rr.levelField("dominant_threat_level"); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
}

// ReadCombined parses a moving-threat ranking CSV.
func ReadCombined(r io.Reader) ([]motion.CombinedEntry, error) {
	rr, err := newRowReader(r, CombinedHeader)
	if err != nil {
		return nil, err
	}

	out := []motion.CombinedEntry{}
	for {
		if err := rr.next(); err == io.EOF {
			return out, nil
		} else if err != nil {
			return nil, err
		}

		var e motion.CombinedEntry
		if e.Label, err = rr.nonEmpty("label"); err != nil {
			return nil, err
		}
		if e.Count, err = rr.intField("count"); err != nil {
			return nil, err
		}
		if e.DominantLevel, err = rr.levelField("dominant_level"); err != nil {
			return nil, err
		}
		if e.Pairs, err = rr.intField("pairs"); err != nil {
			return nil, err
		}
		floats := []struct {
			field string
			dst   *float64
		}{
			{"mean_threat", &e.MeanThreat},
			{"mean_speed_norm", &e.MeanSpeedNorm},
			{"max_speed_norm", &e.MaxSpeedNorm},
			{"moving_threat_index", &e.MovingThreatIndex},
		}
		for _, f := range floats {
			if *f.dst, err = rr.floatField(f.field); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
}
