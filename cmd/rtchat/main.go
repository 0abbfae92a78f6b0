// Command rtchat drives a realtime session from the terminal: typed lines are
// sent as user turns, slash commands switch modality and tune the microphone
// gate, and final assistant messages are printed as they arrive.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AltairaLabs/rtsession/runtime/logger"
	"github.com/AltairaLabs/rtsession/runtime/version"
)

var rootCmd = &cobra.Command{
	Use:           "rtchat",
	Short:         "Interactive client for realtime voice and text sessions",
	Version:       version.GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `rtchat connects to a realtime speech-to-speech service, keeps the
connection alive across transient failures and lets you switch between text
and voice while the session is running.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		// .env is optional
		_ = godotenv.Load()
		if cmd.Flags().Changed("verbose") {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error getting verbose flag: %v\n", err)
				return
			}
			logger.SetVerbose(verbose)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command.
func Execute() {
	rootCmd.SetVersionTemplate(version.GetVersionInfo() + "\n")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}
