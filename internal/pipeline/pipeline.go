// Package pipeline runs one obfuscation job end to end: downscale, saliency,
// the perturbation controller, upscale, face detection, redaction and
// rotation. Each job owns its buffers; nothing is shared between jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/pixelcloak/internal/controller"
	"github.com/andresmejia3/pixelcloak/internal/detector"
	"github.com/andresmejia3/pixelcloak/internal/fingerprint"
	"github.com/andresmejia3/pixelcloak/internal/metrics"
	"github.com/andresmejia3/pixelcloak/internal/persist"
	"github.com/andresmejia3/pixelcloak/internal/random"
	"github.com/andresmejia3/pixelcloak/internal/raster"
	"github.com/andresmejia3/pixelcloak/internal/redact"
	"github.com/andresmejia3/pixelcloak/internal/saliency"
	"github.com/andresmejia3/pixelcloak/internal/ssim"
	"github.com/andresmejia3/pixelcloak/internal/types"
	"github.com/rs/zerolog"
)

var (
	// ErrBusy rejects a submission while the session already has a job in flight.
	ErrBusy = errors.New("a job is already running for this session")
	// ErrCancelled reports a job stopped by its context. Nothing is persisted.
	ErrCancelled = errors.New("job cancelled")
	// ErrTooLarge rejects images above the pixel ceiling before allocation.
	ErrTooLarge = errors.New("image too large")
)

// DefaultMaxProcessDim caps the longer side of the working copy.
const DefaultMaxProcessDim = 1024

// Config wires the collaborators shared by every job.
type Config struct {
	Workers       int
	MaxProcessDim int
	MaxPixels     int
	Compositor    *redact.Compositor
	Detector      detector.Detector // nil skips detection
	FailOpen      bool
	Saver         persist.Saver // nil disables saving
	Recorder      Recorder      // nil skips the ledger
}

// Engine holds the long-lived parts of the pipeline. It is safe for
// concurrent use by many sessions.
type Engine struct {
	cfg       Config
	rng       *random.Engine
	eval      *ssim.Evaluator
	ctrl      *controller.Controller
	persister *persister
}

// NewEngine starts the SSIM pool and, when a Saver is configured, the
// persister goroutine. Close releases both.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Compositor == nil {
		return nil, fmt.Errorf("pipeline requires a redaction compositor")
	}
	if cfg.MaxProcessDim <= 0 {
		cfg.MaxProcessDim = DefaultMaxProcessDim
	}

	rng := random.New()
	eval := ssim.New(cfg.Workers)
	e := &Engine{
		cfg:  cfg,
		rng:  rng,
		eval: eval,
		ctrl: controller.New(rng, eval),
	}
	if cfg.Saver != nil {
		e.persister = newPersister(cfg.Saver, cfg.Recorder)
	}
	return e, nil
}

// Close waits for pending saves and stops the worker pool.
func (e *Engine) Close() {
	if e.persister != nil {
		e.persister.close()
	}
	e.eval.Close()
}

// Request is one job. Image must already be orientation-corrected.
type Request struct {
	Image  *raster.Image
	Params controller.Params
	// Rotate turns the output clockwise by this many quarter turns.
	Rotate int
	// Compositor overrides the engine's redaction style for this job.
	Compositor *redact.Compositor
	Save       bool
}

// Outcome is the result of one job. When Err is nil, Image is the final
// output and Saved (non-nil only if saving was requested) delivers the
// persistence result independently.
type Outcome struct {
	Image        *raster.Image
	SSIM         float64
	Rounds       int
	Faces        int
	Boxes        []types.FaceBox
	HashDistance int
	Filename     string
	Err          error
	Saved        <-chan SaveResult
}

// Run executes a job synchronously on the caller's goroutine.
func (e *Engine) Run(ctx context.Context, req Request) Outcome {
	start := time.Now()
	out := e.run(ctx, req)

	switch {
	case out.Err == nil:
		metrics.JobFinished(metrics.ResultOK, time.Since(start))
		metrics.Scored(out.SSIM, out.Rounds, out.Faces, out.HashDistance)
	case errors.Is(out.Err, ErrCancelled):
		metrics.JobFinished(metrics.ResultCancelled, time.Since(start))
	default:
		metrics.JobFinished(metrics.ResultError, time.Since(start))
	}
	return out
}

func (e *Engine) run(ctx context.Context, req Request) Outcome {
	log := zerolog.Ctx(ctx)
	src := req.Image
	if src == nil {
		return Outcome{Err: fmt.Errorf("no image supplied")}
	}
	if err := raster.CheckDims(src.W, src.H, e.cfg.MaxPixels); err != nil {
		return Outcome{Err: fmt.Errorf("%w: %v", ErrTooLarge, err)}
	}
	if ctx.Err() != nil {
		return Outcome{Err: ErrCancelled}
	}

	w, h := fitWithin(src.W, src.H, e.cfg.MaxProcessDim)
	work := src
	if w != src.W || h != src.H {
		log.Debug().Int("width", w).Int("height", h).Msg("downscaling working copy")
		work = resize(src, w, h)
	}

	mask := saliency.Estimate(work)
	res, err := e.ctrl.Run(ctx, work, mask, req.Params)
	if err != nil {
		return Outcome{Err: err}
	}
	if res.Cancelled {
		return Outcome{Err: ErrCancelled}
	}

	final := res.Image
	if final.W != src.W || final.H != src.H {
		final = resize(final, src.W, src.H)
	}

	boxes, err := e.detect(ctx, final)
	if err != nil {
		return Outcome{Err: err}
	}

	comp := req.Compositor
	if comp == nil {
		comp = e.cfg.Compositor
	}
	final, painted, err := comp.Apply(ctx, final, boxes)
	if err != nil {
		return Outcome{Err: fmt.Errorf("redaction failed: %w", err)}
	}
	if ctx.Err() != nil {
		return Outcome{Err: ErrCancelled}
	}

	rgba := final.ToRGBA()
	distance := fingerprint.Distance(src.ToRGBA(), rgba)
	if req.Rotate%4 != 0 {
		final = raster.FromImage(rotate(rgba, req.Rotate))
	}

	out := Outcome{
		Image:        final,
		SSIM:         res.SSIM,
		Rounds:       res.Rounds,
		Faces:        len(painted),
		Boxes:        boxes,
		HashDistance: distance,
		Filename:     persist.RandomFilename(e.rng),
	}
	log.Info().
		Str("filename", out.Filename).
		Float64("ssim", out.SSIM).
		Int("rounds", out.Rounds).
		Int("faces", out.Faces).
		Int("hash_distance", out.HashDistance).
		Msg("obfuscation complete")

	if req.Save && e.persister != nil {
		out.Saved = e.persister.enqueue(ctx, out, comp.Mode())
	}
	return out
}

// detect calls the detector exactly once. A failure aborts the job unless
// the engine is configured to fail open.
func (e *Engine) detect(ctx context.Context, img *raster.Image) ([]types.FaceBox, error) {
	if e.cfg.Detector == nil {
		return nil, nil
	}
	boxes, err := e.cfg.Detector.Detect(ctx, img)
	if err == nil {
		return boxes, nil
	}
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}

	metrics.DetectorFailed(e.cfg.Detector.Name())
	var detErr *types.DetectionError
	if !errors.As(err, &detErr) {
		err = &types.DetectionError{Detector: e.cfg.Detector.Name(), Err: err}
	}
	if e.cfg.FailOpen {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("face detection failed, continuing without redaction")
		return nil, nil
	}
	return nil, err
}
