package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/domain"
	"github.com/sagecloud/kbcrawl/internal/vecindex"
)

// ValidateResult compares the store against the vector index.
type ValidateResult struct {
	DBChunks     int  `json:"db_chunks"`
	DBDocuments  int  `json:"db_documents"`
	IndexVectors int  `json:"index_vectors"`
	IndexFound   bool `json:"index_found"`
	Match        bool `json:"match"`
}

// Validate counts eligible chunks in the store and vectors in the index and
// reports whether they agree. A missing index counts as zero vectors.
func (s *Service) Validate(ctx context.Context) (*ValidateResult, error) {
	chunks, docs, err := s.store.CountEligibleChunks(ctx)
	if err != nil {
		return nil, err
	}
	result := &ValidateResult{DBChunks: chunks, DBDocuments: docs}

	index, err := vecindex.Load(s.indexCfg, s.logger)
	if errors.Is(err, domain.ErrNotFound) {
		result.Match = chunks == 0
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = index.Close() }()

	result.IndexFound = true
	if result.IndexVectors, err = index.Count(ctx); err != nil {
		return nil, err
	}
	result.Match = result.DBChunks == result.IndexVectors

	s.logger.Info("index validated",
		zap.Int("db_chunks", result.DBChunks),
		zap.Int("index_vectors", result.IndexVectors),
		zap.Bool("match", result.Match),
	)
	return result, nil
}
