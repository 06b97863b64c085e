package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sagecloud/kbcrawl/internal/usecase/sanitize"
)

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize",
	Short: "Audit stored documents: junk, short pages and duplicates",
	Long: "Recomputes document fingerprints, marks junk and near-empty pages\n" +
		"excluded, and collapses URL and text duplicates to one canonical\n" +
		"document. Dry-run by default; pass --apply to write changes.",
	RunE: runSanitize,
}

var sanitizeApply bool

func init() {
	sanitizeCmd.Flags().BoolVar(&sanitizeApply, "apply", false, "Apply changes (default is dry-run)")
	rootCmd.AddCommand(sanitizeCmd)
}

func runSanitize(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	svc := sanitize.New(a.store, sanitize.Config{
		MinChars:     a.cfg.Sanitize.MinChars,
		MinWords:     a.cfg.Sanitize.MinWords,
		JunkPatterns: a.cfg.Sanitize.JunkPatterns,
	}, a.logger)

	summary, err := svc.Run(cmd.Context(), sanitizeApply)
	if err != nil {
		return err
	}
	if err := printJSON(summary); err != nil {
		return err
	}
	if !sanitizeApply {
		fmt.Println("Dry-run only. Use --apply to write changes.")
	}
	return nil
}
