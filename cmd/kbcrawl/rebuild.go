package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sagecloud/kbcrawl/internal/usecase/ingest"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-embed every eligible chunk and replace the vector index",
	Long: "Streams all chunks of non-excluded documents in batches through the\n" +
		"embedding API and writes a fresh vector index. Run after sanitize\n" +
		"--apply to drop excluded documents' vectors.",
	RunE: runRebuild,
}

var (
	rebuildBatchSize int
	rebuildDryRun    bool
)

func init() {
	rebuildCmd.Flags().IntVar(&rebuildBatchSize, "batch-size", 0, "Chunks per embedding request (overrides config)")
	rebuildCmd.Flags().BoolVar(&rebuildDryRun, "dry-run", false, "Count eligible chunks without embedding")
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.startOps(ctx)

	embedder, err := a.embedder()
	if err != nil {
		return err
	}

	batchSize := a.cfg.Embedding.BatchSize
	if rebuildBatchSize > 0 {
		batchSize = rebuildBatchSize
	}

	svc := ingest.New(ingest.Deps{
		Store:    a.store,
		Embedder: embedder,
		IndexCfg: a.indexCfg(),
		Logger:   a.logger,
	})
	result, err := svc.Rebuild(ctx, batchSize, rebuildDryRun)
	if result != nil {
		_ = printJSON(result)
	}
	return err
}
