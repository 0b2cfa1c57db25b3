package pipeline

import (
	"context"
	"sync"

	"github.com/andresmejia3/pixelcloak/internal/metrics"
	"go.uber.org/atomic"
)

// Session admits at most one job at a time. A submission made while a job
// is in flight is rejected with ErrBusy rather than queued.
type Session struct {
	ID     string
	engine *Engine

	busy   atomic.Bool
	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewSession(id string, engine *Engine) *Session {
	return &Session{ID: id, engine: engine}
}

// Submit starts req on its own goroutine. The returned channel yields
// exactly one Outcome and is then closed.
func (s *Session) Submit(ctx context.Context, req Request) (<-chan Outcome, error) {
	if !s.busy.CompareAndSwap(false, true) {
		metrics.JobFinished(metrics.ResultBusy, 0)
		return nil, ErrBusy
	}

	jobCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	results := make(chan Outcome, 1)
	go func() {
		defer close(results)
		out := s.engine.Run(jobCtx, req)

		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
		s.busy.Store(false)

		results <- out
	}()
	return results, nil
}

// Cancel asks the in-flight job to stop. It reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Busy reports whether a job is in flight.
func (s *Session) Busy() bool {
	return s.busy.Load()
}
