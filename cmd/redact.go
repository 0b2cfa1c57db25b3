package cmd

import (
	"github.com/andresmejia3/pixelcloak/internal/detector"
	"github.com/andresmejia3/pixelcloak/internal/utils"
	"github.com/spf13/cobra"
)

var redactOpts Options

var redactCmd = &cobra.Command{
	Use:         "redact [files or directories...]",
	Short:       "Cover detected faces without perturbing the rest of the image",
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		redactOpts.Inputs = args
		if err := validateObfuscateFlags(&redactOpts); err != nil {
			return err
		}
		if err := applyFlags(cmd, Cfg, &redactOpts); err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}
		if Cfg.Detector.Kind == detector.KindNone {
			utils.ShowError("No detector configured", errNoDetector, nil)
			return errNoDetector
		}

		// Zero strength skips the perturbation loop entirely.
		params := Cfg.Params()
		params.Strength = 0
		return runObfuscate(cmd, params, &redactOpts, "🎭 PixelCloak Redacting")
	},
}

func init() {
	rootCmd.AddCommand(redactCmd)
	addRedactFlags(redactCmd, &redactOpts)
	redactCmd.Flags().StringVarP(&redactOpts.OutputDir, "out", "o", "", "Directory for finished images (default from config)")
	redactCmd.Flags().IntVarP(&redactOpts.Rotate, "rotate", "r", 0, "Clockwise quarter turns applied to the output")
	redactCmd.Flags().IntVarP(&redactOpts.NumEngines, "engines", "e", 1, "Number of images processed in parallel")
	redactCmd.Flags().BoolVar(&redactOpts.NoSave, "no-save", false, "Run the pipeline without writing any output")
}
