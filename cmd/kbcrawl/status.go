package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/sagecloud/kbcrawl/internal/domain"
	"github.com/sagecloud/kbcrawl/internal/vecindex"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show corpus counts and the latest ingest run",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Documents         int               `json:"documents"`
	DocumentsExcluded int               `json:"documents_excluded"`
	Chunks            int               `json:"chunks"`
	ChunksEligible    int               `json:"chunks_eligible"`
	IndexVectors      *int              `json:"index_vectors,omitempty"`
	LatestRun         *domain.IngestRun `json:"latest_run,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	var report statusReport
	if report.Documents, report.DocumentsExcluded, err = a.store.CountDocuments(ctx); err != nil {
		return err
	}
	if report.Chunks, err = a.store.CountChunks(ctx); err != nil {
		return err
	}
	if report.ChunksEligible, _, err = a.store.CountEligibleChunks(ctx); err != nil {
		return err
	}

	index, err := vecindex.Load(a.indexCfg(), a.logger)
	if err == nil {
		count, countErr := index.Count(ctx)
		_ = index.Close()
		if countErr != nil {
			return countErr
		}
		report.IndexVectors = &count
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	run, err := a.store.LatestRun(ctx)
	if err == nil {
		report.LatestRun = run
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	return printJSON(&report)
}
