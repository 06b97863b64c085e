package main

import (
	"github.com/spf13/cobra"

	"github.com/sagecloud/kbcrawl/internal/usecase/ingest"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare the document store against the vector index",
	Long: "Counts eligible chunks in the store and vectors in the index and\n" +
		"reports whether the two agree. A mismatch usually means a rebuild\n" +
		"is due.",
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	svc := ingest.New(ingest.Deps{
		Store:    a.store,
		IndexCfg: a.indexCfg(),
		Logger:   a.logger,
	})
	result, err := svc.Validate(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(result)
}
