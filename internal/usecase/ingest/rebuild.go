package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/metrics"
	"github.com/sagecloud/kbcrawl/internal/vecindex"
)

// RebuildResult summarizes a full index rebuild.
type RebuildResult struct {
	ChunksEligible int `json:"chunks_eligible"`
	ChunksIndexed  int `json:"chunks_indexed"`
	Batches        int `json:"batches"`
}

// Rebuild re-embeds every eligible chunk and replaces the vector index
// wholesale. Excluded documents contribute nothing. The old index stays in
// place until the rebuild completes.
func (s *Service) Rebuild(ctx context.Context, batchSize int, dryRun bool) (*RebuildResult, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	eligible, _, err := s.store.CountEligibleChunks(ctx)
	if err != nil {
		return nil, err
	}
	result := &RebuildResult{ChunksEligible: eligible}
	s.logger.Info("rebuild scan",
		zap.Int("chunks_eligible", eligible), zap.Bool("dry_run", dryRun))
	if dryRun {
		return result, nil
	}

	var index vecindex.Index
	defer func() {
		if index != nil {
			_ = index.Close()
		}
	}()

	var (
		batchIDs   []int64
		batchTexts []string
		start      = time.Now()
	)

	flush := func() error {
		if len(batchTexts) == 0 {
			return nil
		}
		vectors, err := s.embed.EmbedBatch(ctx, batchTexts)
		if err != nil {
			return fmt.Errorf("embed rebuild batch: %w", err)
		}
		if index == nil {
			if index, err = vecindex.Create(s.indexCfg, len(vectors[0]), s.logger); err != nil {
				return err
			}
		}
		if err := index.Add(ctx, batchIDs, vectors); err != nil {
			return err
		}
		result.ChunksIndexed += len(batchIDs)
		result.Batches++
		metrics.ChunksEmbeddedTotal.Add(float64(len(batchIDs)))

		elapsed := time.Since(start)
		rate := 0.0
		if elapsed > 0 {
			rate = float64(result.ChunksIndexed) / elapsed.Minutes()
		}
		s.logger.Info("rebuild batch embedded",
			zap.Int("batch", len(batchIDs)),
			zap.Int("processed", result.ChunksIndexed),
			zap.Int("total", eligible),
			zap.Float64("chunks_per_min", rate),
		)
		batchIDs = batchIDs[:0]
		batchTexts = batchTexts[:0]
		return nil
	}

	err = s.store.EligibleChunks(ctx, func(id int64, text string) error {
		batchIDs = append(batchIDs, id)
		batchTexts = append(batchTexts, text)
		if len(batchIDs) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	if err := flush(); err != nil {
		return result, err
	}

	if index == nil {
		s.logger.Info("rebuild produced no vectors")
		return result, nil
	}
	if err := index.Save(ctx); err != nil {
		return result, err
	}
	s.logger.Info("rebuild done",
		zap.Int("chunks_indexed", result.ChunksIndexed),
		zap.Int("batches", result.Batches),
	)
	return result, nil
}
