package vecindex

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/domain"
)

// File format: magic, version, dim, count, then count records of
// (id int64, dim float32 values), all little-endian.
const (
	flatMagic   uint32 = 0x4b425649 // "KBVI"
	flatVersion uint32 = 1
)

// Flat is an exhaustive L2 index held in memory and persisted to a single
// file with an atomic tmp-and-rename save. Suited to corpora up to a few
// hundred thousand vectors.
type Flat struct {
	mu      sync.RWMutex
	path    string
	dim     int
	ids     []int64
	vectors []float32 // len == len(ids)*dim
	byID    map[int64]int
	logger  *zap.Logger
}

// NewFlat returns an empty index that will save to path, ignoring any file
// already there.
func NewFlat(path string, dim int, logger *zap.Logger) *Flat {
	return &Flat{
		path:   path,
		dim:    dim,
		byID:   map[int64]int{},
		logger: logger,
	}
}

// OpenFlat loads the index at path, or creates an empty one with the given
// dimensionality. An existing file with a different dimensionality yields
// domain.ErrDimensionMismatch.
func OpenFlat(path string, dim int, logger *zap.Logger) (*Flat, error) {
	f, err := LoadFlat(path, logger)
	if errors.Is(err, domain.ErrNotFound) {
		return &Flat{
			path:   path,
			dim:    dim,
			byID:   map[int64]int{},
			logger: logger,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if f.dim != dim {
		_ = f.Close()
		return nil, fmt.Errorf("index at %s has dim %d, want %d: %w",
			path, f.dim, dim, domain.ErrDimensionMismatch)
	}
	return f, nil
}

// LoadFlat loads an existing index file; domain.ErrNotFound when absent.
func LoadFlat(path string, logger *zap.Logger) (*Flat, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("index file %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	r := bufio.NewReader(file)
	var header struct {
		Magic   uint32
		Version uint32
		Dim     uint32
		Count   uint64
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	if header.Magic != flatMagic {
		return nil, fmt.Errorf("index file %s: bad magic", path)
	}
	if header.Version != flatVersion {
		return nil, fmt.Errorf("index file %s: unsupported version %d", path, header.Version)
	}

	f := &Flat{
		path:    path,
		dim:     int(header.Dim),
		ids:     make([]int64, header.Count),
		vectors: make([]float32, int(header.Count)*int(header.Dim)),
		byID:    make(map[int64]int, header.Count),
		logger:  logger,
	}
	for i := range f.ids {
		if err := binary.Read(r, binary.LittleEndian, &f.ids[i]); err != nil {
			return nil, fmt.Errorf("read vector id %d: %w", i, err)
		}
		row := f.vectors[i*f.dim : (i+1)*f.dim]
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		f.byID[f.ids[i]] = i
	}
	return f, nil
}

// Dim returns the vector dimensionality.
func (f *Flat) Dim() int { return f.dim }

// Count returns the number of stored vectors.
func (f *Flat) Count(_ context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids), nil
}

// Add appends vectors under the given ids. A vector whose id is already
// present replaces the stored one.
func (f *Flat) Add(_ context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids/vectors length mismatch: %d != %d", len(ids), len(vectors))
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, id := range ids {
		if len(vectors[i]) != f.dim {
			return fmt.Errorf("vector for id %d has dim %d, want %d: %w",
				id, len(vectors[i]), f.dim, domain.ErrDimensionMismatch)
		}
		if pos, ok := f.byID[id]; ok {
			copy(f.vectors[pos*f.dim:(pos+1)*f.dim], vectors[i])
			continue
		}
		f.byID[id] = len(f.ids)
		f.ids = append(f.ids, id)
		f.vectors = append(f.vectors, vectors[i]...)
	}
	return nil
}

// Remove drops the given ids via swap-remove. Unknown ids are ignored.
func (f *Flat) Remove(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range ids {
		pos, ok := f.byID[id]
		if !ok {
			continue
		}
		last := len(f.ids) - 1
		if pos != last {
			f.ids[pos] = f.ids[last]
			copy(f.vectors[pos*f.dim:(pos+1)*f.dim], f.vectors[last*f.dim:(last+1)*f.dim])
			f.byID[f.ids[pos]] = pos
		}
		f.ids = f.ids[:last]
		f.vectors = f.vectors[:last*f.dim]
		delete(f.byID, id)
	}
	return nil
}

// Search scans every vector and returns the k nearest by squared L2
// distance. Result slices always have length k; empty slots hold NoResult.
func (f *Flat) Search(_ context.Context, vector []float32, k int) ([]int64, []float32, error) {
	if len(vector) != f.dim {
		return nil, nil, fmt.Errorf("query vector has dim %d, want %d: %w",
			len(vector), f.dim, domain.ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil, fmt.Errorf("k must be positive, got %d", k)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	type hit struct {
		id   int64
		dist float32
	}
	hits := make([]hit, 0, len(f.ids))
	for i, id := range f.ids {
		row := f.vectors[i*f.dim : (i+1)*f.dim]
		var sum float32
		for j, v := range row {
			d := v - vector[j]
			sum += d * d
		}
		hits = append(hits, hit{id: id, dist: sum})
	}
	sort.Slice(hits, func(a, b int) bool { return hits[a].dist < hits[b].dist })

	ids := make([]int64, k)
	dists := make([]float32, k)
	for i := range ids {
		if i < len(hits) {
			ids[i] = hits[i].id
			dists[i] = hits[i].dist
		} else {
			ids[i] = NoResult
			dists[i] = float32(math.Inf(1))
		}
	}
	return ids, dists, nil
}

// Save writes the index to a temp file and renames it into place.
func (f *Flat) Save(_ context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create index dir: %w", err)
		}
	}

	tmp := f.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}

	if err := f.write(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace index file: %w", err)
	}
	f.logger.Debug("index saved",
		zap.String("path", f.path), zap.Int("vectors", len(f.ids)))
	return nil
}

func (f *Flat) write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	header := struct {
		Magic   uint32
		Version uint32
		Dim     uint32
		Count   uint64
	}{flatMagic, flatVersion, uint32(f.dim), uint64(len(f.ids))}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write index header: %w", err)
	}
	for i, id := range f.ids {
		if err := binary.Write(bw, binary.LittleEndian, id); err != nil {
			return fmt.Errorf("write vector id %d: %w", i, err)
		}
		row := f.vectors[i*f.dim : (i+1)*f.dim]
		if err := binary.Write(bw, binary.LittleEndian, row); err != nil {
			return fmt.Errorf("write vector %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// Close is a no-op; the flat index holds no external resources.
func (f *Flat) Close() error { return nil }
