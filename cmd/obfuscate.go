package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/tabwriter"

	"github.com/andresmejia3/pixelcloak/internal/controller"
	"github.com/andresmejia3/pixelcloak/internal/pipeline"
	"github.com/andresmejia3/pixelcloak/internal/utils"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var obfuscateOpts Options

var obfuscateCmd = &cobra.Command{
	Use:         "obfuscate [files or directories...]",
	Short:       "Perturb images and redact any faces found",
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		obfuscateOpts.Inputs = args
		if err := validateObfuscateFlags(&obfuscateOpts); err != nil {
			return err
		}
		if err := applyFlags(cmd, Cfg, &obfuscateOpts); err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}
		return runObfuscate(cmd, Cfg.Params(), &obfuscateOpts, "🛡️  PixelCloak Obfuscating")
	},
}

func init() {
	rootCmd.AddCommand(obfuscateCmd)
	addEngineFlags(obfuscateCmd, &obfuscateOpts)
	addRedactFlags(obfuscateCmd, &obfuscateOpts)
	obfuscateCmd.Flags().StringVarP(&obfuscateOpts.OutputDir, "out", "o", "", "Directory for finished images (default from config)")
	obfuscateCmd.Flags().IntVarP(&obfuscateOpts.Rotate, "rotate", "r", 0, "Clockwise quarter turns applied to the output")
	obfuscateCmd.Flags().IntVarP(&obfuscateOpts.NumEngines, "engines", "e", 1, "Number of images processed in parallel")
	obfuscateCmd.Flags().BoolVar(&obfuscateOpts.NoSave, "no-save", false, "Run the pipeline without writing any output")
}

func validateObfuscateFlags(opts *Options) error {
	if len(opts.Inputs) == 0 {
		err := fmt.Errorf("at least one input is required")
		utils.ShowError("Missing input", err, nil)
		return err
	}
	for _, in := range opts.Inputs {
		if _, err := os.Stat(in); os.IsNotExist(err) {
			err := fmt.Errorf("input path does not exist: %s", in)
			utils.ShowError("Input file not found", err, nil)
			return err
		}
	}
	if opts.NumEngines < 1 {
		err := fmt.Errorf("engines must be at least 1")
		utils.ShowError("Invalid engine count", err, nil)
		return err
	}
	if opts.Rotate < 0 || opts.Rotate > 3 {
		err := fmt.Errorf("rotate must be between 0 and 3 quarter turns, got %d", opts.Rotate)
		utils.ShowError("Invalid rotation", err, nil)
		return err
	}
	return nil
}

type fileResult struct {
	Path    string
	Outcome pipeline.Outcome
	Saved   pipeline.SaveResult
	Err     error
}

// runObfuscate pushes every input through the pipeline, one session per
// engine slot, and prints a summary table. params are passed through as-is
// so redact can run with the perturbation switched off.
func runObfuscate(cmd *cobra.Command, params controller.Params, opts *Options, label string) error {
	ctx := cmd.Context()
	log := zerolog.Ctx(ctx)

	files, err := collectInputs(opts.Inputs)
	if err != nil {
		utils.ShowError("Failed to read inputs", err, nil)
		return err
	}
	if len(files) == 0 {
		err := fmt.Errorf("no images found in %v", opts.Inputs)
		utils.ShowError("Nothing to do", err, nil)
		return err
	}

	engine, cleanup, err := buildEngine(ctx, Cfg, !opts.NoSave)
	if err != nil {
		utils.ShowError("Failed to start pipeline", err, nil)
		return err
	}
	defer cleanup()

	fmt.Fprintf(os.Stderr, "🚀 Processing %d image(s) with %d engine(s)...\n", len(files), opts.NumEngines)

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	taskChan := make(chan string, len(files))
	resultChan := make(chan fileResult, len(files))
	var wg sync.WaitGroup

	for i := 0; i < opts.NumEngines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			session := pipeline.NewSession(fmt.Sprintf("cli-%d", id), engine)
			for path := range taskChan {
				resultChan <- processFile(ctx, session, path, params, opts)
				bar.Add(1)
			}
		}(i)
	}

	for _, f := range files {
		taskChan <- f
	}
	close(taskChan)
	wg.Wait()
	close(resultChan)
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	results := make([]fileResult, 0, len(files))
	for r := range resultChan {
		results = append(results, r)
	}

	failed := printResults(results, opts.NoSave)
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "🛑 Interrupted. Unfinished images were discarded.")
		return ctx.Err()
	}
	if failed > 0 {
		log.Warn().Int("failed", failed).Int("total", len(results)).Msg("some images failed")
		return fmt.Errorf("%d of %d images failed", failed, len(results))
	}
	fmt.Fprintln(os.Stderr, "✅ Done.")
	return nil
}

func processFile(ctx context.Context, session *pipeline.Session, path string, params controller.Params, opts *Options) fileResult {
	res := fileResult{Path: path}
	img, err := loadImage(path, Cfg.Engine.MaxPixels)
	if err != nil {
		res.Err = err
		return res
	}

	outcomes, err := session.Submit(ctx, pipeline.Request{
		Image:  img,
		Params: params,
		Rotate: opts.Rotate,
		Save:   !opts.NoSave,
	})
	if err != nil {
		res.Err = err
		return res
	}
	res.Outcome = <-outcomes
	if res.Outcome.Err != nil {
		res.Err = res.Outcome.Err
		return res
	}
	if res.Outcome.Saved != nil {
		res.Saved = <-res.Outcome.Saved
		res.Err = res.Saved.Err
	}
	return res
}

// printResults writes the summary table to stdout and returns the failure count.
func printResults(results []fileResult, noSave bool) int {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FILE\tSSIM\tROUNDS\tFACES\tDRIFT\tOUTPUT")
	fmt.Fprintln(w, "----\t----\t------\t-----\t-----\t------")

	failed := 0
	for _, r := range results {
		name := filepath.Base(r.Path)
		if r.Err != nil {
			failed++
			status := "ERROR: " + r.Err.Error()
			if errors.Is(r.Err, pipeline.ErrCancelled) {
				status = "cancelled"
			}
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t%s\n", name, status)
			continue
		}
		where := r.Saved.Location
		if noSave {
			where = "(not saved)"
		}
		fmt.Fprintf(w, "%s\t%.4f\t%d\t%d\t%d\t%s\n",
			name, r.Outcome.SSIM, r.Outcome.Rounds, r.Outcome.Faces, r.Outcome.HashDistance, where)
	}
	w.Flush()
	return failed
}
