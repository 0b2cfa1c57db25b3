package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/pixelcloak/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:         "history",
	Short:       "List recent obfuscation runs from the ledger",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runs, err := DB.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			utils.Die("Failed to list runs", err, nil)
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tWHEN\tSIZE\tSSIM\tROUNDS\tFACES\tMODE\tDRIFT\tLOCATION")
		fmt.Fprintln(w, "--\t----\t----\t----\t------\t-----\t----\t-----\t--------")

		for _, r := range runs {
			fmt.Fprintf(w, "%d\t%s\t%dx%d\t%.4f\t%d\t%d\t%s\t%d\t%s\n",
				r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Width, r.Height,
				r.SSIM, r.Rounds, r.Faces, r.Mode, r.HashDistance, r.Location)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show (0 for all)")
}
