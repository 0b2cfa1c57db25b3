package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/pixelcloak/internal/types"
	"github.com/andresmejia3/pixelcloak/internal/utils" // Using the SafeCommand wrapper
)

// Response status bytes written by the detector process.
const (
	StatusOK    byte = 0
	StatusError byte = 1
)

// maxPayload guards against a corrupted length header allocating gigabytes.
const maxPayload = 64 << 20

// ErrWorkerDead is returned once a worker has crashed or been killed after a
// timeout. Errors reported by a live worker never wrap it.
var ErrWorkerDead = errors.New("detector worker is no longer running")

type DetectorWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu   sync.Mutex
	dead bool
}

// NewDetectorWorker starts `python -u script` with a side-channel pipe on FD 3.
func NewDetectorWorker(id int, python, script string) (*DetectorWorker, error) {
	py := utils.NewSafeCommand(python, "-u", script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &DetectorWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one length-prefixed frame and reads one length-prefixed reply.
func (w *DetectorWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch a crashed interpreter
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxPayload {
		return nil, fmt.Errorf("response length %d exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Detect sends one JPEG and returns the face boxes the process reports. If
// ctx expires first the process is killed and the worker becomes unusable.
func (w *DetectorWorker) Detect(ctx context.Context, jpeg []byte) ([]types.FaceBox, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead {
		return nil, ErrWorkerDead
	}

	type reply struct {
		body []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		body, err := w.Communicate(jpeg)
		done <- reply{body, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			// A transport failure leaves the pipes out of sync, so the
			// process is never reused.
			w.dead = true
			w.kill()
			return nil, fmt.Errorf("worker %d: %w: %w", w.ID, ErrWorkerDead, r.err)
		}
		return DecodeResponse(r.body)
	case <-ctx.Done():
		w.dead = true
		w.kill()
		return nil, fmt.Errorf("worker %d: %w", w.ID, ctx.Err())
	}
}

// DecodeResponse parses a reply body:
// [Status:0] [NumFaces] [NumFaces x (Left, Top, Right, Bottom)]
// [Status:1] [MsgLen] [Msg]
func DecodeResponse(body []byte) ([]types.FaceBox, error) {
	r := bytes.NewReader(body)
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty response: %w", err)
	}

	if status == StatusError {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("failed to read error length: %w", err)
		}
		if int(msgLen) > r.Len() {
			return nil, fmt.Errorf("truncated error message")
		}
		msg := make([]byte, msgLen)
		io.ReadFull(r, msg)

		// The worker may send a JSON error object instead of plain text.
		var res types.ErrorResult
		if json.Unmarshal(msg, &res) == nil && res.Error != "" {
			return nil, fmt.Errorf("python worker error: %s", res.Error)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}
	if status != StatusOK {
		return nil, fmt.Errorf("unknown status byte %d", status)
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read face count: %w", err)
	}
	if int(n)*16 > r.Len() {
		return nil, fmt.Errorf("face count %d exceeds payload", n)
	}

	boxes := make([]types.FaceBox, 0, n)
	for i := uint32(0); i < n; i++ {
		var b [4]int32
		if err := binary.Read(r, binary.BigEndian, &b); err != nil {
			return nil, fmt.Errorf("failed to read box %d: %w", i, err)
		}
		boxes = append(boxes, types.FaceBox{Left: int(b[0]), Top: int(b[1]), Right: int(b[2]), Bottom: int(b[3])})
	}
	return boxes, nil
}

func (w *DetectorWorker) kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
	w.Stdin.Close()
	w.DataPipe.Close()
}

func (w *DetectorWorker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead {
		if w.Cmd != nil {
			w.Cmd.Wait()
		}
		return
	}
	w.dead = true
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

// Stderr returns whatever the process has logged so far.
func (w *DetectorWorker) Stderr() string {
	if w.Cmd == nil {
		return ""
	}
	return w.Cmd.Stderr.String()
}
