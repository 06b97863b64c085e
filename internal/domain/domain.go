// Package domain holds the core record types shared across the pipeline.
package domain

import "time"

// Document is one crawled page, keyed by canonical URL.
type Document struct {
	ID             int64
	URL            string
	Title          string
	SourceType     string
	PublishedDate  string // raw value as extracted, may be empty
	ContentText    string
	ContentHash    string
	NormalizedHash string
	NormalizedURL  string
	TextLength     int
	ImageURL       string
	Excluded       bool
	ExcludedReason string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Chunk is one embeddable passage of a document. (DocumentID, Index) is unique.
type Chunk struct {
	ID         int64
	DocumentID int64
	Index      int
	Heading    string // empty means no heading
	Text       string
}

// Page is the crawler's output record for one fetched page.
type Page struct {
	URL           string
	Title         string
	PublishedDate string
	ContentText   string
	ImageURL      string
}

// IngestRun records one ingestion execution.
type IngestRun struct {
	ID             int64
	CreatedAt      time.Time
	StartedAt      time.Time
	FinishedAt     time.Time
	Status         string // running, complete, failed
	StatsJSON      string
	Error          string
	PagesCrawled   int
	DocumentsSeen  int
	ChunksEmbedded int
}

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// RetrievedChunk is one ranked retrieval result joined with document metadata.
type RetrievedChunk struct {
	ChunkID       int64
	Text          string
	Heading       string
	Title         string
	URL           string
	SourceType    string
	ImageURL      string
	PublishedDate string
	Score         float64
}

// IngestStats summarizes one ingest run.
type IngestStats struct {
	DocumentsInserted int `json:"documents_inserted"`
	DocumentsUpdated  int `json:"documents_updated"`
	ChunksInserted    int `json:"chunks_inserted"`
	PageErrors        int `json:"page_errors"`
}
