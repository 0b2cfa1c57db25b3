package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/pixelcloak/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetLedger bool
	resetFiles  bool
	resetYes    bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (run ledger, saved images)",
	Long:        "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetLedger && !resetFiles {
			resetLedger = true
			resetFiles = true
		}

		var reader *bufio.Reader
		if !resetYes {
			reader = bufio.NewReader(os.Stdin)
		}

		if resetLedger {
			switch {
			case DB == nil:
				fmt.Println("ℹ️  No database configured, skipping the run ledger.")
			case confirm(reader, "⚠️  Are you sure you want to DROP the run ledger?"):
				fmt.Println("🗑️  Clearing Run Ledger...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFiles {
			dir := Cfg.Output.Dir
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete every image in %s?", dir)) {
				fmt.Println("🗑️  Clearing Output Images...")
				removeDir(dir)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetLedger, "ledger", false, "Drop the PostgreSQL run ledger")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Delete the local output directory")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

// confirm asks a yes/no question. A nil reader answers yes.
func confirm(r *bufio.Reader, prompt string) bool {
	if r == nil {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	res, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return false
	}
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
