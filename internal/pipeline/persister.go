package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/andresmejia3/pixelcloak/internal/metrics"
	"github.com/andresmejia3/pixelcloak/internal/persist"
	"github.com/andresmejia3/pixelcloak/internal/store"
	"github.com/rs/zerolog"
)

const (
	saveQueue   = 16
	saveTimeout = time.Minute
)

// ErrSaveQueueFull reports an output dropped because the save goroutine is
// too far behind.
var ErrSaveQueueFull = errors.New("save queue is full")

// Recorder writes saved runs to the ledger.
type Recorder interface {
	InsertRun(ctx context.Context, r store.Run) (int64, error)
}

// SaveResult reports where an output went. A failed save never invalidates
// the Outcome it belongs to.
type SaveResult struct {
	Filename string
	Location string
	RunID    int64
	Err      error
}

type saveJob struct {
	ctx  context.Context
	out  Outcome
	mode string
	done chan SaveResult
}

// persister encodes and stores finished images on its own goroutine so a
// slow destination never holds up the next job.
type persister struct {
	saver    persist.Saver
	recorder Recorder
	jobs     chan saveJob
	wg       sync.WaitGroup
}

func newPersister(saver persist.Saver, recorder Recorder) *persister {
	p := &persister{
		saver:    saver,
		recorder: recorder,
		jobs:     make(chan saveJob, saveQueue),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// enqueue hands out to the save goroutine without blocking. When the queue
// is full the result is ErrSaveQueueFull and the image is not saved.
func (p *persister) enqueue(ctx context.Context, out Outcome, mode string) <-chan SaveResult {
	done := make(chan SaveResult, 1)
	// Saving outlives the request that produced the image.
	job := saveJob{ctx: context.WithoutCancel(ctx), out: out, mode: mode, done: done}
	select {
	case p.jobs <- job:
	default:
		metrics.SaveFailed()
		zerolog.Ctx(ctx).Warn().Str("filename", out.Filename).Msg("save queue full, output dropped")
		done <- SaveResult{Filename: out.Filename, Err: ErrSaveQueueFull}
		close(done)
	}
	return done
}

func (p *persister) loop() {
	defer p.wg.Done()
	for job := range p.jobs {
		job.done <- p.save(job)
		close(job.done)
	}
}

func (p *persister) save(job saveJob) SaveResult {
	ctx, cancel := context.WithTimeout(job.ctx, saveTimeout)
	defer cancel()
	log := zerolog.Ctx(ctx)

	res := SaveResult{Filename: job.out.Filename}
	data, err := persist.EncodeJPEG(job.out.Image, persist.Quality)
	if err != nil {
		metrics.SaveFailed()
		res.Err = err
		return res
	}

	res.Location, res.Err = p.saver.Save(ctx, job.out.Filename, data)
	if res.Err != nil {
		metrics.SaveFailed()
		log.Error().Err(res.Err).Str("filename", job.out.Filename).Msg("failed to save output")
		return res
	}

	if p.recorder != nil {
		id, err := p.recorder.InsertRun(ctx, store.Run{
			Filename:     job.out.Filename,
			Location:     res.Location,
			Width:        job.out.Image.W,
			Height:       job.out.Image.H,
			SSIM:         job.out.SSIM,
			Rounds:       job.out.Rounds,
			Faces:        job.out.Faces,
			Mode:         job.mode,
			HashDistance: job.out.HashDistance,
		})
		if err != nil {
			log.Warn().Err(err).Str("filename", job.out.Filename).Msg("failed to record run")
		}
		res.RunID = id
	}
	log.Debug().Str("location", res.Location).Msg("output saved")
	return res
}

func (p *persister) close() {
	close(p.jobs)
	p.wg.Wait()
}
