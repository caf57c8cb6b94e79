package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/drawbridge/config"
	"github.com/sergev/drawbridge/drawbridge"
	"github.com/sergev/drawbridge/fdd"
	"github.com/sergev/drawbridge/img"
)

var readCmd = &cobra.Command{
	Use:   "read [FILE]",
	Short: "Read the floppy disk to a sector image file",
	Long:  "Read the whole floppy disk and write it to a flat sector image (IMG) file.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filename := "floppy.img"
		if len(args) > 0 {
			filename = args[0]
		}

		if diag := bridge.EnableReading(true, true, false); diag != drawbridge.DiagnosticOK {
			cobra.CheckErr(fmt.Errorf("failed to start drive: %s", diag))
		}
		defer bridge.EnableReading(false, false, false)

		drive := fdd.NewDrive(bridge, config.Retries)
		if err := drive.Detect(); err != nil {
			cobra.CheckErr(err)
		}

		density := "DD"
		if drive.IsHD() {
			density = "HD"
		}
		fmt.Printf("Reading %s disk to %s\n", density, filename)

		err := img.DumpDisk(filename, drive, func(track, head int) {
			fmt.Printf("Reading track %d, head %d...\n", track, head)
		})
		if err != nil {
			cobra.CheckErr(err)
		}

		fmt.Printf("Successfully read floppy disk to %s\n", filename)
	},
}

func init() {
	rootCmd.AddCommand(readCmd)
}
