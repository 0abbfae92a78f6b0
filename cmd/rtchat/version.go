package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/rtsession/runtime/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionInfo())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
