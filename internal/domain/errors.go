package domain

import "errors"

// Sentinel errors shared across layers.
var (
	// ErrNotFound signals a missing record or index file.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch signals a vector batch whose dimension does not
	// match the index. Fatal to an ingest run: the index cannot hold mixed
	// dimensions.
	ErrDimensionMismatch = errors.New("vector index dimension mismatch")

	// ErrEmbeddingProvider wraps failures of the remote embedding service.
	ErrEmbeddingProvider = errors.New("embedding provider error")
)
