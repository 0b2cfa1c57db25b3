// Package server exposes the obfuscation pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/andresmejia3/pixelcloak/internal/config"
	"github.com/andresmejia3/pixelcloak/internal/controller"
	"github.com/andresmejia3/pixelcloak/internal/persist"
	"github.com/andresmejia3/pixelcloak/internal/pipeline"
	"github.com/andresmejia3/pixelcloak/internal/redact"
	"github.com/andresmejia3/pixelcloak/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	// SessionHeader names the client's session. Requests without one get a
	// fresh single-use session.
	SessionHeader   = "X-Session-Id"
	RequestIDHeader = "X-Request-Id"

	maxSessions = 1024
)

// Server routes HTTP requests into per-session pipeline jobs.
type Server struct {
	engine *pipeline.Engine
	cfg    *config.Config
	log    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*pipeline.Session
}

func New(engine *pipeline.Engine, cfg *config.Config, log zerolog.Logger) *Server {
	return &Server{
		engine:   engine,
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*pipeline.Session),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/obfuscate", s.handleObfuscate)
		r.Delete("/sessions/{id}/job", s.handleCancel)
	})
	return r
}

// requestLogger tags each request with a UUID and carries a logger on its context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(RequestIDHeader, id)

		log := s.log.With().Str("request_id", id).Str("path", r.URL.Path).Logger()
		next.ServeHTTP(w, r.WithContext(log.WithContext(r.Context())))
	})
}

func (s *Server) handleObfuscate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerolog.Ctx(ctx)

	params, err := paramsFromQuery(r.URL.Query(), s.cfg.Params())
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	comp, err := s.compositorFromQuery(r.URL.Query())
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	rotate := 0
	if v := r.URL.Query().Get("rotate"); v != "" {
		if rotate, err = strconv.Atoi(v); err != nil {
			httpError(w, http.StatusBadRequest, fmt.Errorf("rotate: %w", err))
			return
		}
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	img, err := pipeline.Decode(body, s.cfg.Engine.MaxPixels)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, pipeline.ErrTooLarge), errors.As(err, &maxErr):
			httpError(w, http.StatusRequestEntityTooLarge, err)
		default:
			httpError(w, http.StatusBadRequest, err)
		}
		return
	}

	sess := s.session(r.Header.Get(SessionHeader))
	results, err := sess.Submit(ctx, pipeline.Request{
		Image:      img,
		Params:     params,
		Rotate:     rotate,
		Compositor: comp,
		Save:       true,
	})
	if errors.Is(err, pipeline.ErrBusy) {
		httpError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}

	out := <-results
	if out.Err != nil {
		var detErr *types.DetectionError
		switch {
		case errors.Is(out.Err, pipeline.ErrCancelled):
			httpError(w, http.StatusServiceUnavailable, out.Err)
		case errors.Is(out.Err, pipeline.ErrTooLarge):
			httpError(w, http.StatusRequestEntityTooLarge, out.Err)
		case errors.As(out.Err, &detErr):
			httpError(w, http.StatusBadGateway, out.Err)
		default:
			log.Error().Err(out.Err).Msg("obfuscation failed")
			httpError(w, http.StatusInternalServerError, out.Err)
		}
		return
	}

	data, err := persist.EncodeJPEG(out.Image, persist.Quality)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("X-Ssim", strconv.FormatFloat(out.SSIM, 'f', 4, 64))
	h.Set("X-Rounds", strconv.Itoa(out.Rounds))
	h.Set("X-Faces", strconv.Itoa(out.Faces))
	h.Set("X-Filename", out.Filename)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()

	if !ok || !sess.Cancel() {
		httpError(w, http.StatusNotFound, fmt.Errorf("no job in flight for session %q", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// session returns the named session, creating it if needed. Idle sessions
// are dropped once the registry grows past maxSessions.
func (s *Server) session(id string) *pipeline.Session {
	if id == "" {
		return pipeline.NewSession(uuid.NewString(), s.engine)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	if len(s.sessions) >= maxSessions {
		for k, sess := range s.sessions {
			if !sess.Busy() {
				delete(s.sessions, k)
			}
		}
	}
	sess := pipeline.NewSession(id, s.engine)
	s.sessions[id] = sess
	return sess
}

func (s *Server) compositorFromQuery(q url.Values) (*redact.Compositor, error) {
	mode, glyph := q.Get("mode"), q.Get("glyph")
	if mode == "" && glyph == "" {
		return nil, nil
	}

	opts, err := s.cfg.RedactOptions()
	if err != nil {
		return nil, err
	}
	if mode != "" {
		opts.Mode = mode
	}
	if glyph != "" {
		opts.Glyph = glyph
	}
	return redact.NewCompositor(opts)
}

// paramsFromQuery overrides base with any of strength, target, iters,
// block and density found in q.
func paramsFromQuery(q url.Values, base controller.Params) (controller.Params, error) {
	p := base
	floats := map[string]*float64{
		"strength": &p.Strength,
		"target":   &p.TargetSSIM,
		"density":  &p.PatchDensity,
	}
	for key, dst := range floats {
		if v := q.Get(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return p, fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}
	ints := map[string]*int{
		"iters": &p.MaxIters,
		"block": &p.BlockSize,
	}
	for key, dst := range ints {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return p, fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	return p, p.Validate()
}

func httpError(w http.ResponseWriter, code int, err error) {
	http.Error(w, err.Error(), code)
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Routes()}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		for _, sess := range s.sessions {
			sess.Cancel()
		}
		s.mu.Unlock()
		return srv.Shutdown(context.Background())
	}
}
