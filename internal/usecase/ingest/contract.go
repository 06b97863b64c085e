package ingest

import (
	"context"

	"github.com/sagecloud/kbcrawl/internal/chunker"
	"github.com/sagecloud/kbcrawl/internal/crawler"
	"github.com/sagecloud/kbcrawl/internal/domain"
)

// Crawler produces pages for ingestion.
type Crawler interface {
	Run(ctx context.Context, emit func(domain.Page) error) (*crawler.Stats, error)
}

// Embedder vectorizes chunk texts, one vector per input in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits document text into embeddable pieces.
type Chunker interface {
	Split(text string) []chunker.Chunk
}

// SourceRule maps URLs containing a substring to a source type.
type SourceRule struct {
	Contains string
	Type     string
}
