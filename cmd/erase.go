package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/drawbridge/drawbridge"
)

var eraseTrackFlag int

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase one track of the floppy disk",
	Long:  "Wipe a single track of the floppy disk. Refused when the disk is write protected.",
	Run: func(cmd *cobra.Command, args []string) {
		diag := bridge.EnableWriting(true, true)
		if diag == drawbridge.DiagnosticWriteProtected {
			cobra.CheckErr(fmt.Errorf("the disk is write protected"))
		}
		if diag != drawbridge.DiagnosticOK {
			cobra.CheckErr(fmt.Errorf("failed to enable writing: %s", diag))
		}
		defer bridge.EnableWriting(false, false)

		if diag := bridge.SelectTrack(eraseTrackFlag); diag != drawbridge.DiagnosticOK {
			cobra.CheckErr(fmt.Errorf("failed to seek to track %d: %s", eraseTrackFlag, diag))
		}

		for side := 0; side < 2; side++ {
			surface := drawbridge.SurfaceLower
			if side == 1 {
				surface = drawbridge.SurfaceUpper
			}
			if diag := bridge.SelectSurface(surface); diag != drawbridge.DiagnosticOK {
				cobra.CheckErr(fmt.Errorf("failed to select side %d: %s", side, diag))
			}
			if diag := bridge.EraseCurrentTrack(); diag != drawbridge.DiagnosticOK {
				cobra.CheckErr(fmt.Errorf("failed to erase track %d side %d: %s", eraseTrackFlag, side, diag))
			}
		}

		fmt.Printf("Erased track %d on both sides\n", eraseTrackFlag)
	},
}

func init() {
	eraseCmd.Flags().IntVarP(&eraseTrackFlag, "track", "t", 0, "track to erase")
	rootCmd.AddCommand(eraseCmd)
}
