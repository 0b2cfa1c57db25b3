package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/andresmejia3/pixelcloak/internal/config"
	"github.com/andresmejia3/pixelcloak/internal/pipeline"
	"github.com/andresmejia3/pixelcloak/internal/raster"
	"github.com/andresmejia3/pixelcloak/internal/redact"
	"github.com/andresmejia3/pixelcloak/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateDetector struct {
	entered chan struct{}
	release chan struct{}
}

func (d *gateDetector) Name() string { return "gate" }
func (d *gateDetector) Close() error { return nil }
func (d *gateDetector) Detect(ctx context.Context, img *raster.Image) ([]types.FaceBox, error) {
	d.entered <- struct{}{}
	select {
	case <-d.release:
		return []types.FaceBox{{Left: 2, Top: 2, Right: 20, Bottom: 20}}, nil
	case <-ctx.Done():
		return nil, &types.DetectionError{Detector: d.Name(), Err: ctx.Err()}
	}
}

func pngBody(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 7), uint8(y * 5), uint8(x * y), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestServer(t *testing.T, det pipeline.Config) (*config.Config, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.MaxIters = 2
	cfg.Redact.Mode = redact.ModeOpaque

	opts, err := cfg.RedactOptions()
	require.NoError(t, err)
	comp, err := redact.NewCompositor(opts)
	require.NoError(t, err)

	det.Compositor = comp
	det.Workers = 2
	engine, err := pipeline.NewEngine(det)
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return cfg, New(engine, cfg, zerolog.Nop()).Routes()
}

func TestHealthz(t *testing.T) {
	_, h := newTestServer(t, pipeline.Config{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestObfuscate(t *testing.T) {
	_, h := newTestServer(t, pipeline.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/obfuscate?strength=0.5&iters=1", bytes.NewReader(pngBody(t, 32, 24)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1", rec.Header().Get("X-Rounds"))
	assert.Equal(t, "0", rec.Header().Get("X-Faces"))
	assert.True(t, strings.HasSuffix(rec.Header().Get("X-Filename"), ".jpg"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	ssim, err := strconv.ParseFloat(rec.Header().Get("X-Ssim"), 64)
	require.NoError(t, err)
	assert.Greater(t, ssim, 0.0)

	out, _, err := image.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), out.Bounds())
}

func TestObfuscateBadRequests(t *testing.T) {
	_, h := newTestServer(t, pipeline.Config{})
	body := pngBody(t, 8, 8)

	tests := []struct {
		name  string
		query string
		body  []byte
		want  int
	}{
		{"garbage body", "", []byte("nope"), http.StatusBadRequest},
		{"strength out of range", "?strength=2", body, http.StatusBadRequest},
		{"iters zero", "?iters=0", body, http.StatusBadRequest},
		{"iters not a number", "?iters=many", body, http.StatusBadRequest},
		{"unknown mode", "?mode=sparkles", body, http.StatusBadRequest},
		{"bad rotate", "?rotate=left", body, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/obfuscate"+tt.query, bytes.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestObfuscateTooLarge(t *testing.T) {
	cfg, h := newTestServer(t, pipeline.Config{})
	cfg.Engine.MaxPixels = 10

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/obfuscate", bytes.NewReader(pngBody(t, 8, 8))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSessionBusyAndCancel(t *testing.T) {
	det := &gateDetector{entered: make(chan struct{}, 1), release: make(chan struct{})}
	_, h := newTestServer(t, pipeline.Config{Detector: det})
	srv := httptest.NewServer(h)
	defer srv.Close()

	post := func() (*http.Response, error) {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/obfuscate", bytes.NewReader(pngBody(t, 24, 24)))
		req.Header.Set(SessionHeader, "alice")
		return http.DefaultClient.Do(req)
	}

	first := make(chan *http.Response, 1)
	go func() {
		resp, err := post()
		if err != nil {
			first <- nil
			return
		}
		first <- resp
	}()
	<-det.entered

	resp, err := post()
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/sessions/alice/job", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancelled := <-first
	require.NotNil(t, cancelled)
	cancelled.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, cancelled.StatusCode)

	// Nothing left to cancel.
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFacesHeader(t *testing.T) {
	det := &gateDetector{entered: make(chan struct{}, 1), release: make(chan struct{})}
	close(det.release)
	_, h := newTestServer(t, pipeline.Config{Detector: det})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/obfuscate", bytes.NewReader(pngBody(t, 32, 32))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Faces"))
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, pipeline.Config{})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/obfuscate", bytes.NewReader(pngBody(t, 8, 8))))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "pixelcloak_jobs_total")
}

func TestParamsFromQuery(t *testing.T) {
	base := config.Default().Params()
	p, err := paramsFromQuery(url.Values{"strength": {"0.3"}, "block": {"16"}, "target": {"0.9"}}, base)
	require.NoError(t, err)
	assert.Equal(t, 0.3, p.Strength)
	assert.Equal(t, 16, p.BlockSize)
	assert.Equal(t, 0.9, p.TargetSSIM)
	assert.Equal(t, base.MaxIters, p.MaxIters)
	assert.Equal(t, base.PatchDensity, p.PatchDensity)
}
