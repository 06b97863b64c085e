// Package main implements the kbcrawl CLI: crawling, ingestion, index
// maintenance and retrieval over a web knowledge base.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kbcrawl",
	Short: "Web knowledge-base ingestion and retrieval pipeline",
	Long: "kbcrawl crawls configured sites politely, chunks and embeds changed\n" +
		"content, keeps a SQLite store and a vector index in sync, and answers\n" +
		"queries against the indexed corpus.",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
