package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/drawbridge/drawbridge"
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Run hardware diagnostics on the adapter and drive",
	Long:  "Run hardware diagnostics: CTS wiring, index pulse sensing and read head data pulses.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print("Testing CTS line... ")
		if diag := bridge.TestCTS(); diag != drawbridge.DiagnosticOK {
			fmt.Println("FAILED")
			cobra.CheckErr(fmt.Errorf("CTS test failed: %s", diag))
		}
		fmt.Println("ok")

		if diag := bridge.EnableReading(true, false, false); diag != drawbridge.DiagnosticOK {
			cobra.CheckErr(fmt.Errorf("failed to start drive: %s", diag))
		}
		defer bridge.EnableReading(false, false, false)

		fmt.Print("Testing index pulse... ")
		if diag := bridge.TestIndexPulse(); diag != drawbridge.DiagnosticOK {
			fmt.Println("FAILED")
			cobra.CheckErr(fmt.Errorf("index pulse test failed (is a disk inserted?): %s", diag))
		}
		fmt.Println("ok")

		fmt.Print("Testing data pulses... ")
		if diag := bridge.TestDataPulse(); diag != drawbridge.DiagnosticOK {
			fmt.Println("FAILED")
			cobra.CheckErr(fmt.Errorf("data pulse test failed (is a disk inserted?): %s", diag))
		}
		fmt.Println("ok")

		fmt.Println("All diagnostics passed")
	},
}

func init() {
	rootCmd.AddCommand(diagCmd)
}
