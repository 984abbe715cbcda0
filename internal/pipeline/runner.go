package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andresmejia3/skyguard/internal/logging"
	"github.com/andresmejia3/skyguard/internal/metrics"
	"github.com/andresmejia3/skyguard/internal/types"
	"github.com/andresmejia3/skyguard/internal/worker"
	"golang.org/x/sync/errgroup"
)

const megabyte = 1024 * 1024

// Buffer pool to reduce GC pressure during scanning
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, megabyte) },
}

// CopyFrame copies src into a pooled buffer. The runner returns the buffer
// to the pool once the detector is done with it.
func CopyFrame(src []byte) []byte {
	buf := frameBufferPool.Get().([]byte)
	if cap(buf) < len(src) {
		buf = make([]byte, len(src))
	}
	buf = buf[:len(src)]
	copy(buf, src)
	return buf
}

// FrameResult is the detector output for one submitted frame.
type FrameResult struct {
	Index      int
	Timestamp  float64
	Detections []types.RawDetection
}

// DetectorError reports a detector that can no longer be used.
type DetectorError struct {
	WorkerID int
	Frame    int
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("worker %d failed on frame %d: %v", e.WorkerID, e.Frame, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// Source submits frames until the input is exhausted. submit blocks while
// every detector is busy and fails once the run is aborted.
type Source func(ctx context.Context, submit func(types.FrameTask) error) error

// Runner fans frames out to a pool of detectors and hands the results back
// in frame order to a single consumer.
type Runner struct {
	Detectors []Detector
	// Step is the index distance between two submitted frames.
	Step int
}

// Run drives source through the detector pool. consume is called from one
// goroutine only, in ascending frame order.
//
// A detector reporting worker.ErrDetector only loses that frame: an empty
// result is delivered so ordering never stalls. Any other detector error
// aborts the run.
func (r *Runner) Run(ctx context.Context, source Source, consume func(FrameResult) error) error {
	if len(r.Detectors) == 0 {
		return errors.New("no detectors")
	}
	step := max(r.Step, 1)

	g, gctx := errgroup.WithContext(ctx)
	tasks := make(chan types.FrameTask, len(r.Detectors))
	results := make(chan FrameResult, len(r.Detectors)*2)

	// 1. Producer
	g.Go(func() error {
		defer close(tasks)
		return source(gctx, func(t types.FrameTask) error {
			select {
			case tasks <- t:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	// 2. Detector pool
	var wg sync.WaitGroup
	for i, d := range r.Detectors {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return work(gctx, i, d, tasks, results)
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// 3. Ordered consumer
	g.Go(func() error {
		order := NewReorderer(0, step)
		for res := range results {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, ready := range order.Push(res) {
				if err := consume(ready); err != nil {
					return err
				}
			}
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		for _, ready := range order.Drain() {
			if err := consume(ready); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

func work(ctx context.Context, id int, d Detector, tasks <-chan types.FrameTask, results chan<- FrameResult) error {
	log := logging.With("worker")
	for {
		var task types.FrameTask
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-tasks:
			if !ok {
				return nil
			}
			task = t
		}

		start := time.Now()
		dets, err := d.Detect(ctx, task.Data)
		metrics.DetectorLatency.Observe(time.Since(start).Seconds())

		// Return buffer to pool immediately after sending
		frameBufferPool.Put(task.Data[:0])

		if err != nil {
			if !errors.Is(err, worker.ErrDetector) {
				metrics.RecordDetectorError("crash")
				return &DetectorError{WorkerID: id, Frame: task.Index, Err: err}
			}
			metrics.RecordDetectorError("logic")
			log.Warn().Int("worker", id).Int("frame", task.Index).Err(err).Msg("frame skipped")
			// Send empty result to prevent consumer stall
			dets = nil
		}

		select {
		case results <- FrameResult{Index: task.Index, Timestamp: task.Timestamp, Detections: dets}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reorderer restores frame order for results that complete out of order.
type Reorderer struct {
	buffer map[int]FrameResult
	next   int
	step   int
}

// NewReorderer expects indices first, first+step, first+2*step...
func NewReorderer(first, step int) *Reorderer {
	return &Reorderer{buffer: make(map[int]FrameResult), next: first, step: max(step, 1)}
}

// Push buffers res and returns every result that is now in sequence.
func (r *Reorderer) Push(res FrameResult) []FrameResult {
	r.buffer[res.Index] = res
	var ready []FrameResult
	for {
		frame, ok := r.buffer[r.next]
		if !ok {
			break
		}
		delete(r.buffer, r.next)
		ready = append(ready, frame)
		r.next += r.step
	}
	return ready
}

// Pending returns the number of buffered results.
func (r *Reorderer) Pending() int { return len(r.buffer) }

// Drain flushes whatever is still buffered in ascending index order.
func (r *Reorderer) Drain() []FrameResult {
	rest := make([]FrameResult, 0, len(r.buffer))
	for _, res := range r.buffer {
		rest = append(rest, res)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Index < rest[j].Index })
	clear(r.buffer)
	return rest
}
