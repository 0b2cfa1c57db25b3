package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/pixelcloak/internal/server"
	"github.com/andresmejia3/pixelcloak/internal/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	serveOpts Options
	serveAddr string
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve the obfuscation pipeline over HTTP",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyFlags(cmd, Cfg, &serveOpts); err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}
		if cmd.Flags().Changed("addr") {
			Cfg.Server.Addr = serveAddr
		}

		ctx := cmd.Context()
		engine, cleanup, err := buildEngine(ctx, Cfg, !serveOpts.NoSave)
		if err != nil {
			utils.ShowError("Failed to start pipeline", err, nil)
			return err
		}
		defer cleanup()

		fmt.Fprintf(os.Stderr, "🌐 Listening on %s (detector: %s, mode: %s)\n", Cfg.Server.Addr, Cfg.Detector.Kind, Cfg.Redact.Mode)
		srv := server.New(engine, Cfg, *zerolog.Ctx(ctx))
		if err := srv.ListenAndServe(ctx, Cfg.Server.Addr); err != nil {
			utils.ShowError("Server stopped", err, nil)
			return err
		}
		fmt.Fprintln(os.Stderr, "👋 Server shut down.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addEngineFlags(serveCmd, &serveOpts)
	addRedactFlags(serveCmd, &serveOpts)
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (default from config)")
	serveCmd.Flags().StringVarP(&serveOpts.OutputDir, "out", "o", "", "Directory for finished images (default from config)")
	serveCmd.Flags().BoolVar(&serveOpts.NoSave, "no-save", false, "Return images without persisting them")
}
