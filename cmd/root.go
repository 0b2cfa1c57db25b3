package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/pixelcloak/internal/config"
	"github.com/andresmejia3/pixelcloak/internal/store"
	"github.com/andresmejia3/pixelcloak/internal/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Options holds flag values shared by obfuscate, redact, detect and serve.
// Zero values mean "use the config file".
type Options struct {
	Inputs       []string
	OutputDir    string
	Strength     float64
	TargetSSIM   float64
	MaxIters     int
	BlockSize    int
	PatchDensity float64
	Mode         string
	Glyph        string
	Font         string
	Rotate       int
	NumEngines   int
	Detector     string
	BoxesFile    string
	Script       string
	FailOpen     bool
	NoSave       bool
}

// dbMode annotations tell the root command whether to open the ledger.
const (
	dbAnnotation = "db"
	dbRequired   = "required"
	dbOptional   = "optional"
)

var (
	// DB is the global run ledger shared by subcommands. It stays nil when
	// no database is configured for commands that treat it as optional.
	DB *store.Store
	// dbURL is the connection string
	dbURL string

	// Cfg is the loaded configuration, after flag overrides.
	Cfg *config.Config

	cfgPath  string
	logDebug bool
	logJSON  bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "pixelcloak",
	Short:   "Perceptual image obfuscation and face redaction",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger := utils.NewLogger(os.Stderr, logDebug, logJSON)
		cmd.SetContext(logger.WithContext(cmd.Context()))

		var err error
		Cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		mode := cmd.Annotations[dbAnnotation]
		if mode == "" {
			return nil
		}
		url, explicit := resolveDBURL(dbURL)
		if mode == dbOptional && !explicit {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// resolveDBURL picks the connection string from the flag, then the
// POSTGRES_* environment, then a local default. explicit is false only for
// the local default.
func resolveDBURL(flag string) (url string, explicit bool) {
	if flag != "" {
		return flag, true
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name), true
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/pixelcloak", false
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = zerolog.Nop().WithContext(ctx)

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/pixelcloak)")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to a YAML config file (default: $"+config.EnvPath+")")
	rootCmd.PersistentFlags().BoolVar(&logDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON lines instead of console output")
}
