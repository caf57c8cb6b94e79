package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sergev/drawbridge/config"
	"github.com/sergev/drawbridge/drawbridge"
)

var bridge *drawbridge.Client

var (
	portFlag    string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "drawbridge",
	Short: "A CLI program which reads floppy disks via a DrawBridge adapter",
	Long:  "The drawbridge tool reads real floppy disks through a DrawBridge Arduino adapter connected over USB serial.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseFlag {
			log.SetLevel(log.DebugLevel)
		}

		// The ports command works without a device attached.
		if cmd.Name() == "ports" {
			return
		}

		// Initialize configuration
		err := config.Initialize()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to initialize config: %w", err))
		}

		port := config.Port
		if portFlag != "" {
			port = portFlag
		}

		var diag drawbridge.Diagnostic
		bridge, diag = drawbridge.OpenDevice(port, config.CTSFlow)
		if diag != drawbridge.DiagnosticOK {
			cobra.CheckErr(fmt.Errorf("failed to open DrawBridge on %s: %s", port, diag))
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if bridge != nil {
			bridge.ClosePort()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "",
		"serial port of the DrawBridge device (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false,
		"enable debug logging")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
