package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/pixelcloak/internal/detector"
	"github.com/andresmejia3/pixelcloak/internal/types"
	"github.com/andresmejia3/pixelcloak/internal/utils"
	"github.com/spf13/cobra"
)

var errNoDetector = errors.New("no face detector configured (use --detector or detector.kind)")

var (
	detectOpts Options
	detectJSON bool
)

type detection struct {
	File  string          `json:"file"`
	Boxes []types.FaceBox `json:"boxes"`
	Error string          `json:"error,omitempty"`
}

var detectCmd = &cobra.Command{
	Use:   "detect [files or directories...]",
	Short: "List the face boxes the configured detector reports",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		detectOpts.Inputs = args
		detectOpts.NumEngines = 1
		if err := validateObfuscateFlags(&detectOpts); err != nil {
			return err
		}
		if err := applyFlags(cmd, Cfg, &detectOpts); err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}

		det, err := detector.New(Cfg.DetectorOptions())
		if err != nil {
			utils.ShowError("Failed to start detector", err, nil)
			return err
		}
		if det == nil {
			utils.ShowError("No detector configured", errNoDetector, nil)
			return errNoDetector
		}
		defer det.Close()

		files, err := collectInputs(args)
		if err != nil {
			utils.ShowError("Failed to read inputs", err, nil)
			return err
		}

		results := make([]detection, 0, len(files))
		failed := 0
		for _, path := range files {
			if cmd.Context().Err() != nil {
				return cmd.Context().Err()
			}
			d := detection{File: path, Boxes: []types.FaceBox{}}
			img, err := loadImage(path, Cfg.Engine.MaxPixels)
			if err == nil {
				d.Boxes, err = det.Detect(cmd.Context(), img)
			}
			if err != nil {
				d.Error = err.Error()
				failed++
			}
			if d.Boxes == nil {
				d.Boxes = []types.FaceBox{}
			}
			results = append(results, d)
		}

		if detectJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
		} else {
			printDetections(results)
		}
		if failed > 0 {
			return fmt.Errorf("detection failed for %d of %d images", failed, len(files))
		}
		return nil
	},
}

func printDetections(results []detection) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FILE\tFACE\tLEFT\tTOP\tRIGHT\tBOTTOM")
	fmt.Fprintln(w, "----\t----\t----\t---\t-----\t------")
	for _, d := range results {
		name := filepath.Base(d.File)
		if d.Error != "" {
			fmt.Fprintf(w, "%s\t-\tERROR: %s\t\t\t\n", name, d.Error)
			continue
		}
		if len(d.Boxes) == 0 {
			fmt.Fprintf(w, "%s\t-\t\t\t\t\n", name)
			continue
		}
		for i, b := range d.Boxes {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", name, i+1, b.Left, b.Top, b.Right, b.Bottom)
		}
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(detectCmd)
	addRedactFlags(detectCmd, &detectOpts)
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "Print results as JSON")
}
