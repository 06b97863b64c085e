// Package vecindex stores chunk embeddings and answers nearest-neighbour
// queries. Two drivers exist: a file-backed flat index and a Redis-backed
// HNSW index.
package vecindex

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Drivers.
const (
	DriverFlat  = "flat"
	DriverRedis = "redis"
)

// Sentinel identifies empty result slots when fewer than k neighbours exist.
const NoResult int64 = -1

// Config selects and parameterizes an index driver.
type Config struct {
	Driver    string
	Path      string // flat driver: index file location
	Addrs     []string
	Password  string
	KeyPrefix string
}

// Index is the nearest-neighbour store for chunk vectors. Vector ids are the
// chunk row ids.
type Index interface {
	// Dim returns the vector dimensionality the index was created with.
	Dim() int
	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)
	// Add stores vectors under the given ids. len(ids) == len(vectors).
	Add(ctx context.Context, ids []int64, vectors [][]float32) error
	// Remove drops the vectors with the given ids. Unknown ids are ignored.
	Remove(ctx context.Context, ids []int64) error
	// Search returns the k nearest ids and their distances, nearest first.
	// Both slices always have length k; empty slots hold NoResult.
	Search(ctx context.Context, vector []float32, k int) ([]int64, []float32, error)
	// Save persists the index. A no-op for server-backed drivers.
	Save(ctx context.Context) error
	// Close releases driver resources.
	Close() error
}

// Open returns the configured driver, creating the index when absent.
// An existing index with a different dimensionality yields
// domain.ErrDimensionMismatch.
func Open(cfg Config, dim int, logger *zap.Logger) (Index, error) {
	switch cfg.Driver {
	case DriverFlat, "":
		return OpenFlat(cfg.Path, dim, logger)
	case DriverRedis:
		return OpenRedis(cfg, dim, logger)
	default:
		return nil, fmt.Errorf("unknown index driver %q", cfg.Driver)
	}
}

// Create returns an empty index with the configured driver, discarding any
// existing index contents. Used by full rebuilds.
func Create(cfg Config, dim int, logger *zap.Logger) (Index, error) {
	switch cfg.Driver {
	case DriverFlat, "":
		return NewFlat(cfg.Path, dim, logger), nil
	case DriverRedis:
		return CreateRedis(cfg, dim, logger)
	default:
		return nil, fmt.Errorf("unknown index driver %q", cfg.Driver)
	}
}

// Load returns the configured driver for an index that must already exist.
// A missing index yields domain.ErrNotFound.
func Load(cfg Config, logger *zap.Logger) (Index, error) {
	switch cfg.Driver {
	case DriverFlat, "":
		return LoadFlat(cfg.Path, logger)
	case DriverRedis:
		return LoadRedis(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown index driver %q", cfg.Driver)
	}
}
