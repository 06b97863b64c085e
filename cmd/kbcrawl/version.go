package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sagecloud/kbcrawl/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("kbcrawl %s (commit %s, built %s)\n",
			version.Version, version.Commit, version.Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
