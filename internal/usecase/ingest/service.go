// Package ingest synchronizes crawled pages into the document store and the
// vector index, embedding only content that actually changed.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/content"
	"github.com/sagecloud/kbcrawl/internal/crawler"
	"github.com/sagecloud/kbcrawl/internal/domain"
	"github.com/sagecloud/kbcrawl/internal/metrics"
	"github.com/sagecloud/kbcrawl/internal/store"
	"github.com/sagecloud/kbcrawl/internal/vecindex"
)

// Deps holds the service dependencies.
type Deps struct {
	Store       *store.Store
	Crawler     Crawler
	Embedder    Embedder
	Chunker     Chunker
	IndexCfg    vecindex.Config
	Rules       []SourceRule
	DefaultType string
	Logger      *zap.Logger
}

// Service runs ingestion: crawl, diff against stored documents, chunk, embed
// and index.
type Service struct {
	store       *store.Store
	crawler     Crawler
	embed       Embedder
	chunker     Chunker
	indexCfg    vecindex.Config
	rules       []SourceRule
	defaultType string
	logger      *zap.Logger
}

// New creates an ingest service.
func New(d Deps) *Service {
	return &Service{
		store:       d.Store,
		crawler:     d.Crawler,
		embed:       d.Embedder,
		chunker:     d.Chunker,
		indexCfg:    d.IndexCfg,
		rules:       d.Rules,
		defaultType: d.DefaultType,
		logger:      d.Logger,
	}
}

// Result summarizes one ingest run.
type Result struct {
	RunID int64              `json:"run_id"`
	Stats domain.IngestStats `json:"stats"`
	Crawl *crawler.Stats     `json:"crawl"`
}

// Run executes a full ingest: the crawl feeds pages through processPage one
// at a time, each inside its own transaction. The run is tracked in the
// ingest_runs table; per-page failures are counted and skipped, while
// dimension mismatches and crawl errors abort the run.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	runID, err := s.store.CreateRun(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ingest run started", zap.Int64("run_id", runID))

	var (
		stats                       domain.IngestStats
		pagesCrawled, documentsSeen int
		index                       vecindex.Index
	)
	defer func() {
		if index != nil {
			_ = index.Close()
		}
	}()

	crawlStats, crawlErr := s.crawler.Run(ctx, func(page domain.Page) error {
		pagesCrawled++
		documentsSeen++
		if err := s.processPage(ctx, &index, page, &stats); err != nil {
			if errors.Is(err, domain.ErrDimensionMismatch) {
				return err
			}
			stats.PageErrors++
			s.logger.Warn("page ingest failed",
				zap.String("url", page.URL), zap.Error(err))
		}
		if err := s.store.UpdateRunProgress(
			ctx, runID, pagesCrawled, documentsSeen, stats.ChunksInserted,
		); err != nil {
			s.logger.Warn("run progress update failed", zap.Error(err))
		}
		return nil
	})

	result := &Result{RunID: runID, Stats: stats, Crawl: crawlStats}
	statsJSON, err := json.Marshal(result)
	if err != nil {
		statsJSON = nil
	}

	if crawlErr != nil {
		_ = s.store.FinishRun(ctx, runID, domain.RunStatusFailed, string(statsJSON), crawlErr.Error())
		return result, fmt.Errorf("crawl: %w", crawlErr)
	}
	if err := s.store.FinishRun(ctx, runID, domain.RunStatusComplete, string(statsJSON), ""); err != nil {
		return result, err
	}
	s.logger.Info("ingest run complete",
		zap.Int64("run_id", runID),
		zap.Int("documents_inserted", stats.DocumentsInserted),
		zap.Int("documents_updated", stats.DocumentsUpdated),
		zap.Int("chunks_inserted", stats.ChunksInserted),
		zap.Int("page_errors", stats.PageErrors),
	)
	return result, nil
}

// processPage diffs one page against the store and, when content changed,
// rewrites its chunks and vectors. Everything runs inside one transaction:
// an embedding or index failure rolls the document and chunk writes back.
// Old vectors are removed only after the new embeddings exist.
func (s *Service) processPage(
	ctx context.Context, index *vecindex.Index, page domain.Page, stats *domain.IngestStats,
) error {
	contentHash := content.HashText(page.ContentText)
	now := time.Now()

	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.DocumentByURL(ctx, page.URL)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if existing != nil && existing.ContentHash == contentHash {
			return backfillMeta(ctx, tx, existing, page, now)
		}

		var (
			docID       int64
			oldChunkIDs []int64
		)
		if existing != nil {
			docID = existing.ID
			doc := domain.Document{
				ID:            docID,
				Title:         page.Title,
				SourceType:    s.sourceType(page.URL),
				PublishedDate: page.PublishedDate,
				ContentText:   page.ContentText,
				ContentHash:   contentHash,
				ImageURL:      page.ImageURL,
				UpdatedAt:     now,
			}
			if err := tx.UpdateDocumentContent(ctx, &doc); err != nil {
				return err
			}
			if oldChunkIDs, err = tx.ChunkIDs(ctx, docID); err != nil {
				return err
			}
			if err := tx.DeleteChunksForDocument(ctx, docID); err != nil {
				return err
			}
			stats.DocumentsUpdated++
		} else {
			doc := domain.Document{
				URL:           page.URL,
				Title:         page.Title,
				SourceType:    s.sourceType(page.URL),
				PublishedDate: page.PublishedDate,
				ContentText:   page.ContentText,
				ContentHash:   contentHash,
				ImageURL:      page.ImageURL,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if docID, err = tx.InsertDocument(ctx, &doc); err != nil {
				return err
			}
			stats.DocumentsInserted++
		}

		pieces := s.chunker.Split(page.ContentText)
		if len(pieces) == 0 {
			return s.removeStaleVectors(ctx, index, oldChunkIDs)
		}

		chunkIDs := make([]int64, 0, len(pieces))
		texts := make([]string, 0, len(pieces))
		for i, piece := range pieces {
			id, err := tx.InsertChunk(ctx, &domain.Chunk{
				DocumentID: docID,
				Index:      i,
				Heading:    piece.Heading,
				Text:       piece.Text,
			})
			if err != nil {
				return err
			}
			chunkIDs = append(chunkIDs, id)
			texts = append(texts, piece.Text)
		}

		vectors, err := s.embed.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}

		if *index == nil {
			idx, err := vecindex.Open(s.indexCfg, len(vectors[0]), s.logger)
			if err != nil {
				return err
			}
			*index = idx
		}
		if len(oldChunkIDs) > 0 {
			if err := (*index).Remove(ctx, oldChunkIDs); err != nil {
				return err
			}
		}
		if err := (*index).Add(ctx, chunkIDs, vectors); err != nil {
			return err
		}
		if err := (*index).Save(ctx); err != nil {
			return err
		}

		stats.ChunksInserted += len(chunkIDs)
		metrics.ChunksEmbeddedTotal.Add(float64(len(chunkIDs)))
		return nil
	})
}

// backfillMeta fills in a published date or image the stored document is
// missing. Content is unchanged, so nothing is re-embedded.
func backfillMeta(
	ctx context.Context, tx *store.Tx, existing *domain.Document, page domain.Page, now time.Time,
) error {
	published, image := existing.PublishedDate, existing.ImageURL
	changed := false
	if page.PublishedDate != "" && published == "" {
		published = page.PublishedDate
		changed = true
	}
	if page.ImageURL != "" && image == "" {
		image = page.ImageURL
		changed = true
	}
	if !changed {
		return nil
	}
	return tx.TouchDocumentMeta(ctx, existing.ID, published, image, now)
}

// removeStaleVectors drops the old chunk vectors when a document update
// produced no new chunks. Without an existing index there is nothing stale.
func (s *Service) removeStaleVectors(
	ctx context.Context, index *vecindex.Index, oldChunkIDs []int64,
) error {
	if len(oldChunkIDs) == 0 {
		return nil
	}
	if *index == nil {
		idx, err := vecindex.Load(s.indexCfg, s.logger)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		*index = idx
	}
	if err := (*index).Remove(ctx, oldChunkIDs); err != nil {
		return err
	}
	return (*index).Save(ctx)
}

func (s *Service) sourceType(url string) string {
	lower := strings.ToLower(url)
	for _, rule := range s.rules {
		if rule.Contains != "" && strings.Contains(lower, strings.ToLower(rule.Contains)) {
			return rule.Type
		}
	}
	return s.defaultType
}
