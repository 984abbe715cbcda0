package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/skyguard/internal/types"
	"github.com/andresmejia3/skyguard/internal/utils" // Using the SafeCommand wrapper
	"github.com/goccy/go-json"
)

// ErrDetector is returned when the detector process answers a frame with an
// error status. The process is still alive and may be given more frames.
var ErrDetector = errors.New("detector error")

const (
	statusOK    = 0
	statusError = 1

	// maxResponse guards against a corrupted length header.
	maxResponse = 64 * 1024 * 1024
)

// Config is passed to the detector process as command-line arguments.
type Config struct {
	Command       []string
	Model         string
	ConfThreshold float64
	IoUThreshold  float64
	TargetClasses []string
	ReadTimeout   time.Duration
	Debug         bool
}

// Args renders the detector arguments appended to Command.
func (c Config) Args() []string {
	args := []string{
		"--model", c.Model,
		"--conf", strconv.FormatFloat(c.ConfThreshold, 'f', -1, 64),
		"--iou", strconv.FormatFloat(c.IoUThreshold, 'f', -1, 64),
	}
	if len(c.TargetClasses) > 0 {
		args = append(args, "--target-classes", strings.Join(c.TargetClasses, ","))
	}
	if c.Debug {
		args = append(args, "--debug")
	}
	return args
}

// ProcessWorker drives one external detector process. Frames go in on
// stdin, results come back on a dedicated pipe (fd 3) so the detector's own
// stdout chatter can never corrupt the protocol.
type ProcessWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	readTimeout time.Duration
}

// NewProcessWorker starts the detector process.
func NewProcessWorker(ctx context.Context, id int, cfg Config) (*ProcessWorker, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("worker %d: empty detector command", id)
	}
	args := append(append([]string{}, cfg.Command[1:]...), cfg.Args()...)
	cmd := utils.NewSafeCommand(ctx, cfg.Command[0], args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	cmd.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &ProcessWorker{
		ID:          id,
		Cmd:         cmd,
		Stdin:       stdin,
		DataPipe:    r,
		readTimeout: cfg.ReadTimeout,
	}, nil
}

// Detect sends one encoded frame and decodes the detections found in it.
func (w *ProcessWorker) Detect(ctx context.Context, frame []byte) ([]types.RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f, ok := w.DataPipe.(*os.File); ok && w.readTimeout > 0 {
		_ = f.SetReadDeadline(time.Now().Add(w.readTimeout))
	}

	body, err := w.communicate(frame)
	if err != nil {
		return nil, err
	}
	return decodeResponse(body)
}

// communicate performs one request/response exchange.
// Protocol: [uint32 BE length][payload] in both directions.
func (w *ProcessWorker) communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		// This is where a detector that crashed on startup shows up
		return nil, fmt.Errorf("read response header: %w", err)
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen == 0 || respLen > maxResponse {
		return nil, fmt.Errorf("invalid response length %d", respLen)
	}
	body := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, body); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// decodeResponse interprets [status][payload]. Status 0 carries a JSON array
// of detections, status 1 a UTF-8 error message.
func decodeResponse(body []byte) ([]types.RawDetection, error) {
	status, payload := body[0], body[1:]
	switch status {
	case statusOK:
		var dets []types.RawDetection
		if err := json.Unmarshal(payload, &dets); err != nil {
			// Some detectors report errors in-band as {"error": "..."}
			var errorResult types.ErrorResult
			if json.Unmarshal(payload, &errorResult) == nil && errorResult.Error != "" {
				return nil, fmt.Errorf("%w: %s", ErrDetector, errorResult.Error)
			}
			return nil, fmt.Errorf("%w: malformed detections: %v", ErrDetector, err)
		}
		return dets, nil
	case statusError:
		return nil, fmt.Errorf("%w: %s", ErrDetector, string(payload))
	}
	return nil, fmt.Errorf("unknown response status %d", status)
}

// Close shuts the detector down and waits for it to exit.
func (w *ProcessWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
