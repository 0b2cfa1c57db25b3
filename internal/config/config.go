// Package config loads pixelcloak settings from YAML. Every field has a
// default, so an absent file is a valid configuration.
package config

import (
	"fmt"
	"image/color"
	"os"
	"slices"
	"time"

	"github.com/andresmejia3/pixelcloak/internal/controller"
	"github.com/andresmejia3/pixelcloak/internal/detector"
	"github.com/andresmejia3/pixelcloak/internal/redact"
	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable consulted when no --config flag is given.
const EnvPath = "PIXELCLOAK_CONFIG"

// Config is the top-level configuration.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Redact   RedactConfig   `yaml:"redact"`
	Detector DetectorConfig `yaml:"detector"`
	Output   OutputConfig   `yaml:"output"`
	Server   ServerConfig   `yaml:"server"`
}

// EngineConfig controls the perturbation loop.
type EngineConfig struct {
	Strength      float64 `yaml:"strength"`
	TargetSSIM    float64 `yaml:"target_ssim"`
	MaxIters      int     `yaml:"max_iters"`
	BlockSize     int     `yaml:"block_size"`
	PatchDensity  float64 `yaml:"patch_density"`
	MaxProcessDim int     `yaml:"max_process_dim"`
	MaxPixels     int     `yaml:"max_pixels"`
	Workers       int     `yaml:"workers"`
}

// RedactConfig controls how detected faces are covered.
type RedactConfig struct {
	Mode       string  `yaml:"mode"`
	Glyph      string  `yaml:"glyph"`
	Font       string  `yaml:"font"`
	Foreground string  `yaml:"foreground"`
	Background string  `yaml:"background"`
	PixelBlock int     `yaml:"pixel_block"`
	BlurRadius float64 `yaml:"blur_radius"`
}

// DetectorConfig selects the face detector.
type DetectorConfig struct {
	Kind      string        `yaml:"kind"` // none | worker | static | haar
	Python    string        `yaml:"python"`
	Script    string        `yaml:"script"`
	BoxesFile string        `yaml:"boxes_file"`
	Cascade   string        `yaml:"cascade"`
	Timeout   time.Duration `yaml:"timeout"`
	FailOpen  bool          `yaml:"fail_open"`
}

// OutputConfig picks where finished images go. A bucket wins over Dir.
type OutputConfig struct {
	Dir            string `yaml:"dir"`
	GCSBucket      string `yaml:"gcs_bucket"`
	GCSPrefix      string `yaml:"gcs_prefix"`
	GCSCredentials string `yaml:"gcs_credentials"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Strength:      0.6,
			TargetSSIM:    0.95,
			MaxIters:      6,
			BlockSize:     8,
			PatchDensity:  0.06,
			MaxProcessDim: 1024,
			MaxPixels:     64 << 20,
			Workers:       4,
		},
		Redact: RedactConfig{
			Mode:       redact.ModeGlyph,
			Glyph:      "X",
			Foreground: "#ffffff",
			Background: "#000000",
			PixelBlock: 12,
			BlurRadius: 12,
		},
		Detector: DetectorConfig{
			Kind:    detector.KindNone,
			Python:  "python3",
			Timeout: detector.DefaultTimeout,
		},
		Output: OutputConfig{
			Dir: "pixelcloak-out",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			MaxBodyBytes: 32 << 20,
		},
	}
}

// Load reads path over the defaults. An empty path falls back to
// $PIXELCLOAK_CONFIG, and then to the defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every range the engine depends on.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}
	e := c.Engine
	if e.MaxProcessDim < 1 {
		return fmt.Errorf("max_process_dim must be >= 1, got %d", e.MaxProcessDim)
	}
	if e.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", e.Workers)
	}

	r := c.Redact
	if !slices.Contains(redact.Modes, r.Mode) {
		return fmt.Errorf("unknown redaction mode %q (want one of %v)", r.Mode, redact.Modes)
	}
	if r.Mode == redact.ModeGlyph && r.Glyph == "" {
		return fmt.Errorf("glyph mode requires a glyph")
	}
	if _, err := ParseColor(r.Foreground); err != nil {
		return fmt.Errorf("foreground: %w", err)
	}
	if _, err := ParseColor(r.Background); err != nil {
		return fmt.Errorf("background: %w", err)
	}

	switch c.Detector.Kind {
	case detector.KindNone, detector.KindWorker, detector.KindStatic, detector.KindHaar:
	default:
		return fmt.Errorf("unknown detector %q", c.Detector.Kind)
	}
	if c.Detector.Timeout <= 0 {
		return fmt.Errorf("detector timeout must be positive")
	}
	return nil
}

// Params returns the controller parameters for a job using the defaults.
func (c *Config) Params() controller.Params {
	return controller.Params{
		Strength:     c.Engine.Strength,
		TargetSSIM:   c.Engine.TargetSSIM,
		MaxIters:     c.Engine.MaxIters,
		BlockSize:    c.Engine.BlockSize,
		PatchDensity: c.Engine.PatchDensity,
	}
}

// RedactOptions converts the redaction section for redact.NewCompositor.
func (c *Config) RedactOptions() (redact.Options, error) {
	fg, err := ParseColor(c.Redact.Foreground)
	if err != nil {
		return redact.Options{}, err
	}
	bg, err := ParseColor(c.Redact.Background)
	if err != nil {
		return redact.Options{}, err
	}
	return redact.Options{
		Mode:       c.Redact.Mode,
		Glyph:      c.Redact.Glyph,
		FontPath:   c.Redact.Font,
		Foreground: fg,
		Background: bg,
		PixelBlock: c.Redact.PixelBlock,
		BlurRadius: c.Redact.BlurRadius,
	}, nil
}

// DetectorOptions converts the detector section for detector.New.
func (c *Config) DetectorOptions() detector.Options {
	d := c.Detector
	return detector.Options{
		Kind:      d.Kind,
		Timeout:   d.Timeout,
		Python:    d.Python,
		Script:    d.Script,
		BoxesFile: d.BoxesFile,
		Cascade:   d.Cascade,
	}
}

// ParseColor accepts "#rrggbb" or "#rgb" and returns an opaque colour.
func ParseColor(s string) (color.RGBA, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}
