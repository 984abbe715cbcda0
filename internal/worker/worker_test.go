package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// respond pre-fills the data pipe with one framed response.
func respond(pipe *MockCloser, status byte, payload []byte) {
	binary.Write(pipe, binary.BigEndian, uint32(len(payload)+1))
	pipe.WriteByte(status)
	pipe.Write(payload)
}

func newMockWorker() (*ProcessWorker, *MockCloser, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &ProcessWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}
	return w, stdinMock, dataPipeMock
}

func TestDetect(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker()
	respond(dataPipeMock, statusOK, []byte(`[
		{"frame_index": 0, "timestamp": 0, "x1": 10, "y1": 10, "x2": 20, "y2": 30, "score": 0.87, "label": "drone"},
		{"frame_index": 0, "timestamp": 0, "x1": 1, "y1": 2, "x2": 3, "y2": 4, "score": 0.4, "label": "bird"}
	]`))

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	dets, err := w.Detect(context.Background(), inputFrame)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// Verify Go sent the correct data TO the detector
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if binary.BigEndian.Uint32(sentData[:4]) != uint32(len(inputFrame)) {
		t.Errorf("Length header mismatch: %X", sentData[:4])
	}

	if len(dets) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(dets))
	}
	if dets[0].Label != "drone" || dets[0].Y2 != 30 {
		t.Errorf("Unexpected first detection %+v", dets[0])
	}
	if math.Abs(dets[0].Score-0.87) > 1e-9 {
		t.Errorf("Expected score approx 0.87, got %f", dets[0].Score)
	}
}

func TestDetectEmptyFrame(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	respond(dataPipeMock, statusOK, []byte(`[]`))

	dets, err := w.Detect(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("Expected no detections, got %d", len(dets))
	}
}

func TestDetectError(t *testing.T) {
	tests := []struct {
		name    string
		status  byte
		payload string
		wantMsg string
	}{
		{"Error status", statusError, "Model file not found", "detector error: Model file not found"},
		{"In-band error object", statusOK, `{"error": "CUDA out of memory"}`, "detector error: CUDA out of memory"},
		{"Garbage payload", statusOK, `not json`, "detector error: malformed detections"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _, dataPipeMock := newMockWorker()
			respond(dataPipeMock, tt.status, []byte(tt.payload))

			_, err := w.Detect(context.Background(), []byte("frame"))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, ErrDetector) {
				t.Errorf("Expected ErrDetector, got %v", err)
			}
			if !strings.HasPrefix(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error message %q, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestDetectBrokenPipe(t *testing.T) {
	w, _, _ := newMockWorker() // nothing to read: detector died

	_, err := w.Detect(context.Background(), []byte("frame"))
	if err == nil {
		t.Fatal("Expected error from an empty data pipe")
	}
	if errors.Is(err, ErrDetector) {
		t.Errorf("A dead pipe must not look like a recoverable detector error: %v", err)
	}
}

func TestDetectCancelled(t *testing.T) {
	w, stdinMock, _ := newMockWorker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.Detect(ctx, []byte("frame")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if stdinMock.Len() != 0 {
		t.Error("No frame should be sent after cancellation")
	}
}

func TestConfigArgs(t *testing.T) {
	cfg := Config{
		Model:         "yolov8n.pt",
		ConfThreshold: 0.35,
		IoUThreshold:  0.45,
		TargetClasses: []string{"drone", "bird"},
	}
	got := strings.Join(cfg.Args(), " ")
	want := "--model yolov8n.pt --conf 0.35 --iou 0.45 --target-classes drone,bird"
	if got != want {
		t.Errorf("Args() = %q, want %q", got, want)
	}
}
