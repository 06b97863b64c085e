// Package retrieve answers nearest-neighbour queries over the chunk index
// and re-ranks hits with source-type and recency bonuses.
package retrieve

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/domain"
	"github.com/sagecloud/kbcrawl/internal/vecindex"
)

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkReader loads retrieval rows for a set of chunk ids.
type ChunkReader interface {
	RetrievedByIDs(ctx context.Context, ids []int64) (map[int64]domain.RetrievedChunk, error)
}

// Config holds the ranking parameters. RecencyBonuses applies to documents
// published within 180, 365 and 730 days respectively.
type Config struct {
	TopK           int
	ShoppingTerms  []string
	CuratedBonus   float64
	EditorialBonus float64
	RecencyBonuses []float64
}

// Source types the ranker recognizes.
const (
	SourceCurated   = "curated"
	SourceEditorial = "editorial"
)

var recencyWindows = []int{180, 365, 730}

// Service retrieves and ranks chunks for a query.
type Service struct {
	index  vecindex.Index // nil when no index exists yet
	chunks ChunkReader
	embed  Embedder
	cfg    Config
	logger *zap.Logger

	now func() time.Time
}

// New creates a retrieval service. index may be nil when the vector index
// has not been built; every query then returns no results.
func New(index vecindex.Index, chunks ChunkReader, embed Embedder, cfg Config, logger *zap.Logger) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	return &Service{
		index:  index,
		chunks: chunks,
		embed:  embed,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Retrieve embeds the query, finds the nearest chunks and returns them
// ranked by final score, best first. The base score is the negated distance;
// curated sources get a bonus on shopping-flavored queries, editorial
// sources on everything else, and recent documents on top of either.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievedChunk, error) {
	if s.index == nil {
		return nil, nil
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	vector, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	ids, distances, err := s.index.Search(ctx, vector, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]int64, 0, len(ids))
	distByID := make(map[int64]float32, len(ids))
	for i, id := range ids {
		if id == vecindex.NoResult {
			continue
		}
		hits = append(hits, id)
		distByID[id] = distances[i]
	}
	if len(hits) == 0 {
		return nil, nil
	}

	rows, err := s.chunks.RetrievedByIDs(ctx, hits)
	if err != nil {
		return nil, err
	}

	shopping := s.isShoppingQuery(query)
	results := make([]domain.RetrievedChunk, 0, len(hits))
	for _, id := range hits {
		row, ok := rows[id]
		if !ok {
			continue
		}
		score := -float64(distByID[id])
		if shopping && row.SourceType == SourceCurated {
			score += s.cfg.CuratedBonus
		}
		if !shopping && row.SourceType == SourceEditorial {
			score += s.cfg.EditorialBonus
		}
		score += s.recencyBoost(row.PublishedDate)
		row.Score = score
		results = append(results, row)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	s.logger.Debug("retrieved",
		zap.Int("hits", len(results)), zap.Bool("shopping", shopping))
	return results, nil
}

// isShoppingQuery reports whether any query token matches a shopping term.
func (s *Service) isShoppingQuery(query string) bool {
	tokens := map[string]struct{}{}
	for _, t := range strings.Fields(strings.ToLower(query)) {
		tokens[t] = struct{}{}
	}
	for _, term := range s.cfg.ShoppingTerms {
		if _, ok := tokens[term]; ok {
			return true
		}
	}
	return false
}

// recencyBoost maps the document age onto the configured bonus ladder.
// Unparseable or missing dates get no boost.
func (s *Service) recencyBoost(publishedDate string) float64 {
	published, ok := parseDate(publishedDate)
	if !ok {
		return 0
	}
	ageDays := int(s.now().UTC().Sub(published).Hours() / 24)
	for i, window := range recencyWindows {
		if ageDays <= window && i < len(s.cfg.RecencyBonuses) {
			return s.cfg.RecencyBonuses[i]
		}
	}
	return 0
}

// parseDate accepts RFC 3339 timestamps (with Z or offset) and bare dates,
// falling back to the first ten characters for noisy values.
func parseDate(value string) (time.Time, bool) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t.UTC(), true
		}
	}
	if len(cleaned) >= 10 {
		if t, err := time.Parse("2006-01-02", cleaned[:10]); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
