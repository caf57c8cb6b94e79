package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/drawbridge/config"
	"github.com/sergev/drawbridge/drawbridge"
	"github.com/sergev/drawbridge/fdd"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the DrawBridge adapter and disk",
	Long:  "Check the firmware version of the DrawBridge adapter and probe the disk in the drive.",
	Run: func(cmd *cobra.Command, args []string) {
		version := bridge.FirmwareVersion()
		fmt.Printf("DrawBridge firmware: v%d.%d", version.Major, version.Minor)
		if version.BuildNumber != 0 {
			fmt.Printf(" build %d", version.BuildNumber)
		}
		if version.FullControlMod {
			fmt.Printf(" (full control mod)")
		}
		fmt.Println()

		if version.DeviceFlags1 != 0 {
			printFeatures(version.DeviceFlags1)
		}

		if diag := bridge.EnableReading(true, true, false); diag != drawbridge.DiagnosticOK {
			cobra.CheckErr(fmt.Errorf("failed to start drive: %s", diag))
		}
		defer bridge.EnableReading(false, false, false)

		drive := fdd.NewDrive(bridge, config.Retries)
		if err := drive.Detect(); err != nil {
			fmt.Println("Disk: none detected")
			return
		}

		tracks, heads, sectors := drive.Geometry()
		density := "DD (720K)"
		if drive.IsHD() {
			density = "HD (1.44M)"
		}
		fmt.Printf("Disk: %s, %d tracks, %d sides, %d sectors per track\n",
			density, tracks, heads, sectors)
		if bridge.CheckIfDiskIsWriteProtected(true) == drawbridge.DiagnosticWriteProtected {
			fmt.Println("Write protected: yes")
		} else {
			fmt.Println("Write protected: no")
		}

		fmt.Printf("\nConfiguration script: ~/.drawbridge\n")
		fmt.Printf("Bridge: %s on %s\n", config.BridgeName, config.Port)
	},
}

func printFeatures(flags byte) {
	features := []struct {
		bit  byte
		name string
	}{
		{drawbridge.FlagsHighPrecisionSupport, "high precision"},
		{drawbridge.FlagsDiskChangeSupport, "disk change sensing"},
		{drawbridge.FlagsPlusMode, "plus mode"},
		{drawbridge.FlagsDensityDetectEnabled, "density detection"},
		{drawbridge.FlagsSlowSeekingMode, "slow seeking"},
		{drawbridge.FlagsIndexAlignMode, "index aligned reads"},
		{drawbridge.FlagsFluxRead, "flux level reads"},
		{drawbridge.FlagsFirmwareBeta, "beta firmware"},
	}
	fmt.Printf("Features:")
	for _, f := range features {
		if flags&f.bit != 0 {
			fmt.Printf(" [%s]", f.name)
		}
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
