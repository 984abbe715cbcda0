package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/andresmejia3/skyguard/internal/motion"
	"github.com/andresmejia3/skyguard/internal/records"
	"github.com/andresmejia3/skyguard/internal/types"
	"github.com/andresmejia3/skyguard/internal/utils"
	"github.com/spf13/cobra"
)

var (
	motionMaxDt float64
	motionFrame frameFlags
)

var motionCmd = &cobra.Command{
	Use:   "motion [detections.csv]",
	Short: "Estimate per-label motion from a detections CSV, fastest first",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := cfg.Output.CSV
		if len(args) == 1 {
			path = args[0]
		}
		maxDt := cfg.Motion.MaxDt
		if cmd.Flags().Changed("max-dt") {
			maxDt = motionMaxDt
		}
		frame, err := motionFrame.resolve(path)
		if err != nil {
			utils.Die("Failed to read frame size", err, nil)
		}
		stats, err := loadMotion(cmd.Context(), path, maxDt, frame)
		if err != nil {
			utils.Die("Motion analysis failed", err, nil)
		}
		sortBySpeed(stats)
		printMotion(os.Stdout, stats)
	},
}

func init() {
	motionCmd.Flags().Float64Var(&motionMaxDt, "max-dt", motion.DefaultMaxDt, "Max seconds between two detections paired for motion")
	motionFrame.register(motionCmd)
	rootCmd.AddCommand(motionCmd)
}

// frameFlags lets the user state the frame size the detections came from.
type frameFlags struct {
	width  int
	height int
}

func (f *frameFlags) register(c *cobra.Command) {
	c.Flags().IntVar(&f.width, "frame-width", 0, "Frame width in pixels (default: from the scan's _frame.json, else the box extent)")
	c.Flags().IntVar(&f.height, "frame-height", 0, "Frame height in pixels (default: from the scan's _frame.json, else the box extent)")
}

// resolve picks the frame size used to normalize motion: explicit flags, then
// the sidecar the scan wrote next to detectionsPath. A zero geometry makes
// the estimator fall back to the extent of all boxes.
func (f *frameFlags) resolve(detectionsPath string) (types.FrameGeometry, error) {
	if f.width > 0 || f.height > 0 {
		if f.width <= 0 || f.height <= 0 {
			return types.FrameGeometry{}, fmt.Errorf("--frame-width and --frame-height must both be positive, got %dx%d", f.width, f.height)
		}
		return types.FrameGeometry{Width: f.width, Height: f.height}, nil
	}
	meta, err := readFile(records.FrameMetaPath(detectionsPath), records.ReadFrameMeta)
	if errors.Is(err, fs.ErrNotExist) {
		return types.FrameGeometry{}, nil
	}
	if err != nil {
		return types.FrameGeometry{}, err
	}
	return meta.Geometry(), nil
}

// loadMotion reads a detections CSV and estimates motion for every label.
// Without a known frame size speeds are normalized by the bounding rectangle
// of all boxes.
func loadMotion(ctx context.Context, path string, maxDt float64, frame types.FrameGeometry) ([]motion.Stats, error) {
	dets, err := readFile(path, records.ReadDetections)
	if err != nil {
		return nil, err
	}
	return motion.EstimateAll(ctx, dets, motion.Options{MaxDt: maxDt, Frame: frame})
}

// sortBySpeed orders by mean pixel speed, ties by label.
func sortBySpeed(stats []motion.Stats) {
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].MeanSpeedPx != stats[j].MeanSpeedPx {
			return stats[i].MeanSpeedPx > stats[j].MeanSpeedPx
		}
		return stats[i].Label < stats[j].Label
	})
}
