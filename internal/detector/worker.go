package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/pixelcloak/internal/persist"
	"github.com/andresmejia3/pixelcloak/internal/raster"
	"github.com/andresmejia3/pixelcloak/internal/types"
	"github.com/andresmejia3/pixelcloak/internal/worker"
	"github.com/rs/zerolog"
)

// Worker drives an external detector process. A process that times out or
// crashes is dropped and a fresh one is started on the next call.
type Worker struct {
	timeout time.Duration
	start   func() (*worker.DetectorWorker, error)

	mu     sync.Mutex
	w      *worker.DetectorWorker
	nextID int
}

// NewWorker starts `python -u script` and keeps it warm across calls.
func NewWorker(python, script string, timeout time.Duration) (*Worker, error) {
	if script == "" {
		return nil, fmt.Errorf("worker detector requires a script path")
	}
	if python == "" {
		python = "python3"
	}
	d := &Worker{timeout: timeout}
	d.start = func() (*worker.DetectorWorker, error) {
		d.nextID++
		return worker.NewDetectorWorker(d.nextID, python, script)
	}

	w, err := d.start()
	if err != nil {
		return nil, err
	}
	d.w = w
	return d, nil
}

// NewWorkerFrom wraps an already running worker.
func NewWorkerFrom(w *worker.DetectorWorker, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Worker{timeout: timeout, w: w, start: func() (*worker.DetectorWorker, error) {
		return nil, worker.ErrWorkerDead
	}}
}

func (d *Worker) Name() string { return KindWorker }

func (d *Worker) Detect(ctx context.Context, img *raster.Image) ([]types.FaceBox, error) {
	data, err := persist.EncodeJPEG(img, persist.Quality)
	if err != nil {
		return nil, wrap(d.Name(), err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.w == nil {
		w, err := d.start()
		if err != nil {
			return nil, wrap(d.Name(), fmt.Errorf("restart failed: %w", err))
		}
		d.w = w
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	boxes, err := d.w.Detect(ctx, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, worker.ErrWorkerDead) {
			// Close waits for the process, so its stderr is complete afterwards.
			d.w.Close()
			zerolog.Ctx(ctx).Warn().Int("worker", d.w.ID).Str("stderr", d.w.Stderr()).Msg("detector worker abandoned")
			d.w = nil
		}
		return nil, wrap(d.Name(), err)
	}
	return boxes, nil
}

func (d *Worker) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w != nil {
		d.w.Close()
		d.w = nil
	}
	return nil
}
