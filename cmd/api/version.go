package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"orderbatch/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := buildinfo.Info()
		fmt.Fprintf(cmd.OutOrStdout(), "orderbatch %s (commit %s, built %s, %s)\n", info["version"], info["commit"], info["builtAt"], info["go"])
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
