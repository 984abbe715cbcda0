package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/andresmejia3/skyguard/internal/config"
	"github.com/andresmejia3/skyguard/internal/logging"
	"github.com/andresmejia3/skyguard/internal/pipeline"
	"github.com/andresmejia3/skyguard/internal/records"
	"github.com/andresmejia3/skyguard/internal/store"
	"github.com/andresmejia3/skyguard/internal/types"
	"github.com/andresmejia3/skyguard/internal/utils"
	"github.com/andresmejia3/skyguard/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const megabyte = 1024 * 1024

// Options holds the resolved settings of one scan.
type Options struct {
	InputPath   string
	NthFrame    int
	NumEngines  int
	Detector    worker.Config
	CSVPath     string
	JSONPath    string
	MaxDt       float64
	Persist     bool
	MetricsAddr string
}

// scanFlags receives raw flag values. Only flags the user actually set are
// copied over the configuration.
var scanFlags Options

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Score a video with parallel detector engines",
	Run: func(cmd *cobra.Command, args []string) {
		opts := resolveScanOptions(cmd.Flags(), scanFlags)
		if err := validateScanFlags(&opts); err != nil {
			utils.Die("Invalid scan options", err, nil)
		}
		if opts.Persist {
			if err := connectDB(cmd.Context()); err != nil {
				utils.Die("Database unavailable", err, nil)
			}
		}
		runScan(cmd.Context(), opts)
	},
}

func init() {
	d := config.Default()
	scanCmd.Flags().StringVarP(&scanFlags.InputPath, "input", "i", "", "Path to video")
	scanCmd.Flags().IntVarP(&scanFlags.NthFrame, "nth-frame", "n", d.Scan.NthFrame, "AI keyframe interval (e.g. scan every 10th frame)")
	scanCmd.Flags().IntVarP(&scanFlags.NumEngines, "engines", "e", d.Scan.Engines, "Number of parallel detector engines")
	scanCmd.Flags().StringVarP(&scanFlags.Detector.Model, "model", "m", d.Detector.Model, "Detector model weights")
	scanCmd.Flags().Float64Var(&scanFlags.Detector.ConfThreshold, "conf", d.Detector.Conf, "Detector confidence threshold")
	scanCmd.Flags().Float64Var(&scanFlags.Detector.IoUThreshold, "iou", d.Detector.IoU, "Detector NMS IoU threshold")
	scanCmd.Flags().StringSliceVar(&scanFlags.Detector.TargetClasses, "target-classes", nil, "Only keep these labels (comma separated)")
	scanCmd.Flags().DurationVar(&scanFlags.Detector.ReadTimeout, "worker-timeout", d.Detector.ReadTimeout, "Max time to wait for one detector response")
	scanCmd.Flags().BoolVar(&scanFlags.Detector.Debug, "debug", false, "Pass --debug to the detector")
	scanCmd.Flags().StringVarP(&scanFlags.CSVPath, "out", "o", d.Output.CSV, "Detections CSV path (events and threat-motion files are derived from it)")
	scanCmd.Flags().StringVar(&scanFlags.JSONPath, "json", d.Output.JSON, "Detections JSON path (empty to skip)")
	scanCmd.Flags().Float64Var(&scanFlags.MaxDt, "max-dt", d.Motion.MaxDt, "Max seconds between two detections paired for motion")
	scanCmd.Flags().BoolVar(&scanFlags.Persist, "persist", false, "Store the session in PostgreSQL")
	scanCmd.Flags().StringVar(&scanFlags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the scan (e.g. :9090)")

	scanCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(scanCmd)
}

// resolveScanOptions layers explicitly set flags over the loaded configuration.
func resolveScanOptions(flags *pflag.FlagSet, f Options) Options {
	c := cfg
	if c == nil {
		c = config.Default()
	}
	opts := Options{
		InputPath:  f.InputPath,
		NthFrame:   c.Scan.NthFrame,
		NumEngines: c.Scan.Engines,
		Detector: worker.Config{
			Command:       c.Detector.Command,
			Model:         c.Detector.Model,
			ConfThreshold: c.Detector.Conf,
			IoUThreshold:  c.Detector.IoU,
			TargetClasses: c.Detector.TargetClasses,
			ReadTimeout:   c.Detector.ReadTimeout,
			Debug:         f.Detector.Debug,
		},
		CSVPath:     c.Output.CSV,
		JSONPath:    c.Output.JSON,
		MaxDt:       c.Motion.MaxDt,
		Persist:     c.Scan.Persist || f.Persist,
		MetricsAddr: c.Metrics.Addr,
	}

	overrides := map[string]func(){
		"nth-frame":      func() { opts.NthFrame = f.NthFrame },
		"engines":        func() { opts.NumEngines = f.NumEngines },
		"model":          func() { opts.Detector.Model = f.Detector.Model },
		"conf":           func() { opts.Detector.ConfThreshold = f.Detector.ConfThreshold },
		"iou":            func() { opts.Detector.IoUThreshold = f.Detector.IoUThreshold },
		"target-classes": func() { opts.Detector.TargetClasses = f.Detector.TargetClasses },
		"worker-timeout": func() { opts.Detector.ReadTimeout = f.Detector.ReadTimeout },
		"out":            func() { opts.CSVPath = f.CSVPath },
		"json":           func() { opts.JSONPath = f.JSONPath },
		"max-dt":         func() { opts.MaxDt = f.MaxDt },
		"metrics-addr":   func() { opts.MetricsAddr = f.MetricsAddr },
	}
	flags.Visit(func(fl *pflag.Flag) {
		if apply, ok := overrides[fl.Name]; ok {
			apply()
		}
	})
	return opts
}

// runScan orchestrates the video scanning process: worker pool, FFmpeg streaming, scoring and outputs.
func runScan(ctx context.Context, opts Options) {
	log := logging.With("scan")

	// 1. Generate Video ID
	videoID, err := utils.GenerateVideoID(opts.InputPath)
	if err != nil {
		utils.Die("Failed to generate video ID", err, nil)
	}
	fmt.Fprintf(os.Stderr, "📼 Processing Video ID: %s\n", videoID[:12])

	// 2. Frame geometry and FPS for scoring and timestamps
	info, err := utils.ProbeVideo(ctx, opts.InputPath)
	if err != nil {
		utils.Die("Failed to probe video", err, nil)
	}
	if info.FPS <= 0 {
		fmt.Fprintf(os.Stderr, "⚠️  Unknown frame rate, timestamps fall back to wall-clock time\n")
	}
	frame := types.FrameGeometry{Width: info.Width, Height: info.Height}
	log.Info().Str("video", videoID).Int("width", info.Width).Int("height", info.Height).Float64("fps", info.FPS).Msg("video probed")

	// 3. Metrics endpoint
	if opts.MetricsAddr != "" {
		srv := serveMetrics(opts.MetricsAddr)
		defer srv.Shutdown(context.Background())
	}

	// 4. Get total frames for progress bar
	totalVideoFrames := utils.GetTotalFrames(ctx, opts.InputPath)
	if totalVideoFrames <= 0 {
		// Fallback to a spinner or unknown total if ffprobe fails
		totalVideoFrames = -1
	}
	bar := progressbar.NewOptions(totalVideoFrames,
		progressbar.OptionSetDescription("🔍 SkyGuard Scanning"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	// 5. Streaming CSV sink
	csvFile, err := os.Create(opts.CSVPath)
	if err != nil {
		utils.Die("Failed to create detections CSV", err, nil)
	}
	defer csvFile.Close()
	sink, err := records.NewDetectionWriter(csvFile)
	if err != nil {
		utils.Die("Failed to write CSV header", err, nil)
	}

	// 6. Spawn the Engine Pool
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Detector Engines...\n", opts.NumEngines)
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engines := make([]*worker.ProcessWorker, 0, opts.NumEngines)
	detectors := make([]pipeline.Detector, 0, opts.NumEngines)
	defer func() {
		for _, w := range engines {
			w.Close()
		}
	}()
	for i := 0; i < opts.NumEngines; i++ {
		w, err := worker.NewProcessWorker(scanCtx, i, opts.Detector)
		if err != nil {
			utils.Die("Worker startup failed", err, nil)
		}
		engines = append(engines, w)
		detectors = append(detectors, w)
	}

	session := pipeline.NewSession(pipeline.SessionOptions{
		Frame:         frame,
		TargetClasses: opts.Detector.TargetClasses,
		Sink:          sink,
	})

	// 7. Start FFmpeg
	ffmpeg := utils.NewFFmpegCmd(scanCtx, opts.InputPath)
	var stderrBuf bytes.Buffer
	ffmpeg.Stderr = &stderrBuf

	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		utils.Die("Failed to create FFmpeg stdout pipe", err, nil)
	}
	defer ffmpegOut.Close() // Ensure pipe is closed to prevent leaks/zombies

	if err := ffmpeg.Start(); err != nil {
		utils.Die("Failed to start FFmpeg", err, nil)
	}

	// 8. Frame Splitter & Nth-Frame Logic
	start := time.Now()
	totalFrames, sentFrames := 0, 0
	source := func(ctx context.Context, submit func(types.FrameTask) error) error {
		return splitFrames(ffmpegOut, func(index int, data []byte) error {
			totalFrames++
			bar.Add(1) // Update progress bar for every frame read
			if index%opts.NthFrame != 0 {
				return nil
			}
			sentFrames++
			return submit(types.FrameTask{
				Index:     index,
				Timestamp: frameTimestamp(index, info.FPS, start),
				Data:      pipeline.CopyFrame(data),
			})
		})
	}

	totalDetections := 0
	consume := func(res pipeline.FrameResult) error {
		scored, err := session.ObserveFrame(res.Index, res.Timestamp, res.Detections)
		totalDetections += len(scored)
		return err
	}

	runner := &pipeline.Runner{Detectors: detectors, Step: opts.NthFrame}
	if err := runner.Run(scanCtx, source, consume); err != nil {
		cancel()
		ffmpeg.Wait()
		var de *pipeline.DetectorError
		if errors.As(err, &de) {
			w := engines[de.WorkerID]
			// DRAIN: Wait for process to exit and capture final stderr logs
			w.Close()
			utils.Die("Detector crashed", err, w.Cmd)
		}
		if errors.Is(err, context.Canceled) {
			utils.Die("Scan interrupted", err, nil)
		}
		utils.Die("Scan failed", err, nil)
	}

	// 9. Cleanup & Completion Check
	if err := ffmpeg.Wait(); err != nil {
		if stderrBuf.Len() > 0 {
			fmt.Fprintf(os.Stderr, "\nFFmpeg Logs:\n%s\n", stderrBuf.String())
		}
		utils.Die("FFmpeg execution failed", err, nil)
	}
	if err := sink.Flush(); err != nil {
		utils.Die("Failed to flush detections CSV", err, nil)
	}
	bar.Finish()

	// 10. Post-hoc motion analysis and outputs
	res, err := session.Finish(ctx, opts.MaxDt)
	if err != nil {
		utils.Die("Motion analysis failed", err, nil)
	}
	meta := records.FrameMeta{Width: info.Width, Height: info.Height, FPS: info.FPS}
	if err := writeOutputs(opts, res, meta); err != nil {
		utils.Die("Failed to write outputs", err, nil)
	}

	if opts.Persist {
		si := store.SessionInfo{VideoID: videoID, Path: opts.InputPath, Width: info.Width, Height: info.Height, FPS: info.FPS}
		if err := DB.SaveSession(ctx, si, res); err != nil {
			utils.Die("Failed to persist session", err, nil)
		}
		fmt.Fprintf(os.Stderr, "💾 Session saved: %s\n", res.SessionID)
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Scan Complete. Processed %d keyframes out of %d total, %d detections.\n", sentFrames, totalFrames, totalDetections)
	fmt.Println("\n📊 Threat Summary")
	printSummaries(os.Stdout, res.Summaries)
	fmt.Println("\n🎯 Moving Threats")
	printRanking(os.Stdout, res.Ranking)
}

// splitFrames reads an MJPEG stream and calls fn with every frame and its 0-based index.
func splitFrames(r io.Reader, fn func(index int, data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	for index := 0; scanner.Scan(); index++ {
		if err := fn(index, scanner.Bytes()); err != nil {
			return err
		}
	}
	// Check for scanner errors (e.g. token too long, unexpected EOF)
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("frame scanner failed: %w", err)
	}
	return nil
}

// frameTimestamp converts a frame index to seconds. Without a frame rate it
// falls back to wall-clock time since the scan started.
func frameTimestamp(index int, fps float64, start time.Time) float64 {
	if fps > 0 {
		return float64(index) / fps
	}
	return time.Since(start).Seconds()
}

// writeOutputs writes everything derived from the session next to the
// streamed detections CSV, including the frame sidecar that lets the offline
// commands normalize motion the same way.
func writeOutputs(opts Options, res *pipeline.Result, meta records.FrameMeta) error {
	if opts.JSONPath != "" {
		err := writeFile(opts.JSONPath, func(w io.Writer) error { return records.WriteDetectionsJSON(w, res.Detections) })
		if err != nil {
			return err
		}
	}
	eventsPath := records.EventsPath(opts.CSVPath)
	if err := writeFile(eventsPath, func(w io.Writer) error { return records.WriteSummaries(w, res.Summaries) }); err != nil {
		return err
	}
	rankingPath := records.ThreatMotionPath(opts.CSVPath)
	if err := writeFile(rankingPath, func(w io.Writer) error { return records.WriteCombined(w, res.Ranking) }); err != nil {
		return err
	}
	metaPath := records.FrameMetaPath(opts.CSVPath)
	if err := writeFile(metaPath, func(w io.Writer) error { return records.WriteFrameMeta(w, meta) }); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "📝 Wrote %s, %s, %s, %s\n", opts.CSVPath, eventsPath, rankingPath, metaPath)
	return nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	fmt.Fprintf(os.Stderr, "📈 Metrics on http://%s/metrics\n", addr)
	return srv
}

// validateScanFlags ensures all CLI arguments are valid before starting heavy processes.
func validateScanFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path %s is a directory, expected a video file", opts.InputPath)
	}
	if opts.NthFrame < 1 {
		return fmt.Errorf("invalid nth-frame interval: must be >= 1, got %d", opts.NthFrame)
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if len(opts.Detector.Command) == 0 {
		return errors.New("detector command is empty")
	}
	if opts.Detector.ConfThreshold < 0 || opts.Detector.ConfThreshold > 1 {
		return fmt.Errorf("invalid confidence threshold: must be between 0.0 and 1.0, got %f", opts.Detector.ConfThreshold)
	}
	if opts.Detector.IoUThreshold < 0 || opts.Detector.IoUThreshold > 1 {
		return fmt.Errorf("invalid IoU threshold: must be between 0.0 and 1.0, got %f", opts.Detector.IoUThreshold)
	}
	if opts.MaxDt <= 0 {
		return fmt.Errorf("invalid max-dt: must be > 0, got %f", opts.MaxDt)
	}
	if opts.CSVPath == "" {
		return errors.New("output CSV path is empty")
	}
	return nil
}
