package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func frame(payload []byte) *MockCloser {
	m := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(m, binary.BigEndian, uint32(len(payload)))
	m.Write(payload)
	return m
}

func TestDetect(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// Protocol: [Status:0] [NumFaces:2] [Box] [Box]
	payload := new(bytes.Buffer)
	payload.WriteByte(StatusOK)
	binary.Write(payload, binary.BigEndian, uint32(2))
	binary.Write(payload, binary.BigEndian, [4]int32{10, 10, 20, 20})
	binary.Write(payload, binary.BigEndian, [4]int32{-3, 5, 40, 64})

	w := &DetectorWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: frame(payload.Bytes()),
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	input := []byte{0xFF, 0xD8, 0xBE, 0xEF}
	boxes, err := w.Detect(context.Background(), input)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	sent := stdinMock.Bytes()
	if len(sent) != 4+len(input) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(input), len(sent))
	}
	if binary.BigEndian.Uint32(sent[:4]) != uint32(len(input)) {
		t.Errorf("length header = %d", binary.BigEndian.Uint32(sent[:4]))
	}

	if len(boxes) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(boxes))
	}
	if boxes[1].Left != -3 || boxes[1].Bottom != 64 {
		t.Errorf("second box decoded as %+v", boxes[1])
	}
}

func TestDetect_Error(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"plain text", "Python Exception: Import Error", "python worker error: Python Exception: Import Error"},
		{"json object", `{"error": "model not loaded"}`, "python worker error: model not loaded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := new(bytes.Buffer)
			payload.WriteByte(StatusError)
			binary.Write(payload, binary.BigEndian, uint32(len(tt.msg)))
			payload.WriteString(tt.msg)

			w := &DetectorWorker{ID: 1, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: frame(payload.Bytes())}
			_, err := w.Detect(context.Background(), []byte("frame"))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if err.Error() != tt.want {
				t.Errorf("Expected error message '%s', got '%v'", tt.want, err)
			}
		})
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"unknown status", []byte{7}},
		{"missing count", []byte{StatusOK, 0, 0}},
		{"count larger than payload", []byte{StatusOK, 0, 0, 0, 3, 0, 0, 0, 1}},
		{"truncated message", []byte{StatusError, 0, 0, 0, 50, 'o', 'o', 'p', 's'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeResponse(tt.body); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestDetect_ZeroFaces(t *testing.T) {
	w := &DetectorWorker{ID: 1, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: frame([]byte{StatusOK, 0, 0, 0, 0})}
	boxes, err := w.Detect(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 0 {
		t.Errorf("expected no faces, got %v", boxes)
	}
}

func TestDetect_Timeout(t *testing.T) {
	// The read end never receives data, simulating a hung detector.
	pr, pw := io.Pipe()
	defer pw.Close()

	w := &DetectorWorker{ID: 2, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: pr}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := w.Detect(ctx, []byte("frame"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	_, err = w.Detect(context.Background(), []byte("frame"))
	if !errors.Is(err, ErrWorkerDead) {
		t.Errorf("expected ErrWorkerDead after a timeout, got %v", err)
	}
}

func TestCommunicate_CrashedWorker(t *testing.T) {
	w := &DetectorWorker{ID: 3, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: &MockCloser{Buffer: new(bytes.Buffer)}}
	_, err := w.Detect(context.Background(), []byte("frame"))
	if err == nil || !strings.Contains(err.Error(), "EOF") {
		t.Errorf("expected EOF from a closed pipe, got %v", err)
	}
	if !errors.Is(err, ErrWorkerDead) {
		t.Errorf("a crashed worker should report ErrWorkerDead, got %v", err)
	}

	// The pipes are out of sync now, so the worker refuses further frames.
	if _, err := w.Detect(context.Background(), []byte("frame")); !errors.Is(err, ErrWorkerDead) {
		t.Errorf("expected ErrWorkerDead on reuse, got %v", err)
	}
}
