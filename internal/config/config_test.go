package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero iterations", func(c *Config) { c.Engine.MaxIters = 0 }, true},
		{"zero strength", func(c *Config) { c.Engine.Strength = 0 }, true},
		{"strength above one", func(c *Config) { c.Engine.Strength = 1.5 }, true},
		{"full strength", func(c *Config) { c.Engine.Strength = 1 }, false},
		{"target above one", func(c *Config) { c.Engine.TargetSSIM = 1.01 }, true},
		{"zero block size", func(c *Config) { c.Engine.BlockSize = 0 }, true},
		{"negative density", func(c *Config) { c.Engine.PatchDensity = -0.1 }, true},
		{"zero density", func(c *Config) { c.Engine.PatchDensity = 0 }, false},
		{"unknown mode", func(c *Config) { c.Redact.Mode = "sparkles" }, true},
		{"glyph without glyph", func(c *Config) { c.Redact.Glyph = "" }, true},
		{"opaque without glyph", func(c *Config) { c.Redact.Mode = "opaque"; c.Redact.Glyph = "" }, false},
		{"bad colour", func(c *Config) { c.Redact.Background = "black" }, true},
		{"unknown detector", func(c *Config) { c.Detector.Kind = "lidar" }, true},
		{"zero timeout", func(c *Config) { c.Detector.Timeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixelcloak.yaml")
	data := `
engine:
  strength: 0.8
  max_iters: 3
redact:
  mode: pixel
detector:
  kind: static
  boxes_file: boxes.json
  timeout: 5s
  fail_open: true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Engine.Strength != 0.8 || c.Engine.MaxIters != 3 {
		t.Errorf("engine overrides not applied: %+v", c.Engine)
	}
	if c.Engine.TargetSSIM != 0.95 || c.Engine.BlockSize != 8 {
		t.Errorf("unset fields lost their defaults: %+v", c.Engine)
	}
	if c.Redact.Mode != "pixel" || c.Detector.Timeout != 5*time.Second || !c.Detector.FailOpen {
		t.Errorf("unexpected config %+v", c)
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	os.WriteFile(path, []byte("engine:\n  block_size: 16\n"), 0o600)
	t.Setenv(EnvPath, path)

	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Engine.BlockSize != 16 {
		t.Errorf("block size = %d, want 16", c.Engine.BlockSize)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvPath, "")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("engine: [1, 2"), 0o600)
	if _, err := Load(bad); err == nil {
		t.Error("malformed yaml should fail")
	}

	c, err := Load("")
	if err != nil || c.Engine.MaxIters != 6 {
		t.Errorf("empty path should give defaults, got %+v, %v", c, err)
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.RGBA
		wantErr bool
	}{
		{"#000000", color.RGBA{0, 0, 0, 255}, false},
		{"#ff8000", color.RGBA{255, 128, 0, 255}, false},
		{"#fff", color.RGBA{255, 255, 255, 255}, false},
		{"red", color.RGBA{}, true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColor(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRedactOptions(t *testing.T) {
	c := Default()
	c.Redact.Foreground = "#102030"
	opts, err := c.RedactOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Foreground != (color.RGBA{0x10, 0x20, 0x30, 255}) || opts.Mode != "glyph" {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestParams(t *testing.T) {
	p := Default().Params()
	if p.Strength != 0.6 || p.TargetSSIM != 0.95 || p.MaxIters != 6 || p.BlockSize != 8 || p.PatchDensity != 0.06 {
		t.Errorf("unexpected params %+v", p)
	}
}
