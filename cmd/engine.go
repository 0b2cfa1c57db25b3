package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/andresmejia3/pixelcloak/internal/config"
	"github.com/andresmejia3/pixelcloak/internal/detector"
	"github.com/andresmejia3/pixelcloak/internal/persist"
	"github.com/andresmejia3/pixelcloak/internal/pipeline"
	"github.com/andresmejia3/pixelcloak/internal/raster"
	"github.com/andresmejia3/pixelcloak/internal/redact"
	"github.com/spf13/cobra"
)

// imageExts are the file extensions picked up when an input is a directory.
var imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// addEngineFlags registers the flags that override the engine section of the config.
func addEngineFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().Float64VarP(&opts.Strength, "strength", "s", 0, "Perturbation strength in (0, 1]")
	cmd.Flags().Float64VarP(&opts.TargetSSIM, "target", "t", 0, "Minimum SSIM the output must keep, in (0, 1]")
	cmd.Flags().IntVar(&opts.MaxIters, "iters", 0, "Maximum refinement rounds")
	cmd.Flags().IntVar(&opts.BlockSize, "block", 0, "Patch block size in pixels")
	cmd.Flags().Float64Var(&opts.PatchDensity, "density", 0, "Fraction of salient blocks shuffled per round")
}

// addRedactFlags registers the flags that override the redact and detector sections.
func addRedactFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", "", "Redaction mode: "+strings.Join(redact.Modes, ", "))
	cmd.Flags().StringVar(&opts.Glyph, "glyph", "", "Glyph drawn over faces in glyph mode")
	cmd.Flags().StringVar(&opts.Font, "font", "", "TrueType/OpenType font for glyph mode")
	cmd.Flags().StringVarP(&opts.Detector, "detector", "d", "", "Face detector: none, worker, static, haar")
	cmd.Flags().StringVar(&opts.Script, "script", "", "Detector script for the worker detector")
	cmd.Flags().StringVar(&opts.BoxesFile, "boxes", "", "JSON file of face boxes for the static detector")
	cmd.Flags().BoolVar(&opts.FailOpen, "fail-open", false, "Continue without redaction when the detector fails")
}

// applyFlags copies every flag the user actually set over cfg and validates the result.
func applyFlags(cmd *cobra.Command, cfg *config.Config, opts *Options) error {
	set := cmd.Flags().Changed
	if set("strength") {
		cfg.Engine.Strength = opts.Strength
	}
	if set("target") {
		cfg.Engine.TargetSSIM = opts.TargetSSIM
	}
	if set("iters") {
		cfg.Engine.MaxIters = opts.MaxIters
	}
	if set("block") {
		cfg.Engine.BlockSize = opts.BlockSize
	}
	if set("density") {
		cfg.Engine.PatchDensity = opts.PatchDensity
	}
	if set("mode") {
		cfg.Redact.Mode = opts.Mode
	}
	if set("glyph") {
		cfg.Redact.Glyph = opts.Glyph
	}
	if set("font") {
		cfg.Redact.Font = opts.Font
	}
	if set("detector") {
		cfg.Detector.Kind = opts.Detector
	}
	if set("script") {
		cfg.Detector.Script = opts.Script
	}
	if set("boxes") {
		cfg.Detector.BoxesFile = opts.BoxesFile
	}
	if set("fail-open") {
		cfg.Detector.FailOpen = opts.FailOpen
	}
	if set("out") {
		cfg.Output.Dir = opts.OutputDir
	}
	return cfg.Validate()
}

// newSaver returns the configured output target: a GCS bucket if one is
// named, otherwise a local directory. closeFn is never nil.
func newSaver(ctx context.Context, cfg *config.Config) (saver persist.Saver, closeFn func() error, err error) {
	if cfg.Output.GCSBucket != "" {
		g, err := persist.NewGCSSaver(ctx, cfg.Output.GCSBucket, cfg.Output.GCSPrefix, cfg.Output.GCSCredentials)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	}
	return persist.DirSaver{Dir: cfg.Output.Dir}, func() error { return nil }, nil
}

// buildEngine wires a pipeline from cfg. DB, when connected, becomes the run
// ledger. The returned cleanup waits for pending saves.
func buildEngine(ctx context.Context, cfg *config.Config, save bool) (*pipeline.Engine, func(), error) {
	ropts, err := cfg.RedactOptions()
	if err != nil {
		return nil, nil, err
	}
	comp, err := redact.NewCompositor(ropts)
	if err != nil {
		return nil, nil, err
	}
	det, err := detector.New(cfg.DetectorOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start detector: %w", err)
	}

	pc := pipeline.Config{
		Workers:       cfg.Engine.Workers,
		MaxProcessDim: cfg.Engine.MaxProcessDim,
		MaxPixels:     cfg.Engine.MaxPixels,
		Compositor:    comp,
		Detector:      det,
		FailOpen:      cfg.Detector.FailOpen,
	}

	closeSaver := func() error { return nil }
	if save {
		saver, c, err := newSaver(ctx, cfg)
		if err != nil {
			if det != nil {
				det.Close()
			}
			return nil, nil, err
		}
		pc.Saver, closeSaver = saver, c
		if DB != nil {
			pc.Recorder = DB
		}
	}

	engine, err := pipeline.NewEngine(pc)
	if err != nil {
		closeSaver()
		if det != nil {
			det.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		engine.Close()
		closeSaver()
		if det != nil {
			det.Close()
		}
	}
	return engine, cleanup, nil
}

// collectInputs expands directories into the image files they directly
// contain. Plain files are kept as given, whatever their extension.
func collectInputs(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if slices.Contains(imageExts, strings.ToLower(filepath.Ext(e.Name()))) {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}
	return files, nil
}

// loadImage decodes one input file under the configured pixel ceiling.
func loadImage(path string, maxPixels int) (*raster.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return pipeline.Decode(f, maxPixels)
}
