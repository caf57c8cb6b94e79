package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/drawbridge/drawbridge"
)

var rpmCmd = &cobra.Command{
	Use:   "rpm",
	Short: "Measure the drive rotation speed",
	Long:  "Spin the drive and measure the disk rotation speed. A healthy 3.5\" drive runs at 300 RPM.",
	Run: func(cmd *cobra.Command, args []string) {
		if diag := bridge.EnableReading(true, false, false); diag != drawbridge.DiagnosticOK {
			cobra.CheckErr(fmt.Errorf("failed to start drive: %s", diag))
		}
		defer bridge.EnableReading(false, false, false)

		rpm, diag := bridge.MeasureDriveRPM()
		if diag == drawbridge.DiagnosticNoDiskInDrive {
			cobra.CheckErr(fmt.Errorf("no disk in drive"))
		}
		if diag != drawbridge.DiagnosticOK {
			cobra.CheckErr(fmt.Errorf("failed to measure RPM: %s", diag))
		}

		fmt.Printf("Drive speed: %.2f RPM\n", rpm)
	},
}

func init() {
	rootCmd.AddCommand(rpmCmd)
}
