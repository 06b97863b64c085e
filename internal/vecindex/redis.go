package vecindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/domain"
)

const (
	redisVectorField = "v"
	redisScoreField  = "__v_score"
)

// Redis stores vectors as hashes and searches them through an HNSW FT index.
// The index dimensionality is pinned in a meta hash so mismatched reopens
// fail fast.
type Redis struct {
	client rueidis.Client
	prefix string
	dim    int
	logger *zap.Logger
}

// OpenRedis connects and ensures the FT index exists, creating it with the
// given dimensionality when absent. A previously pinned different
// dimensionality yields domain.ErrDimensionMismatch.
func OpenRedis(cfg Config, dim int, logger *zap.Logger) (*Redis, error) {
	r, err := connectRedis(cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	stored, err := r.storedDim(ctx)
	if err != nil {
		r.client.Close()
		return nil, err
	}
	switch {
	case stored == 0:
		cmd := r.client.B().Hset().Key(r.metaKey()).FieldValue().
			FieldValue("dim", strconv.Itoa(dim)).Build()
		if err := r.client.Do(ctx, cmd).Error(); err != nil {
			r.client.Close()
			return nil, fmt.Errorf("pin index dim: %w", err)
		}
	case stored != dim:
		r.client.Close()
		return nil, fmt.Errorf("redis index has dim %d, want %d: %w",
			stored, dim, domain.ErrDimensionMismatch)
	}
	r.dim = dim

	if err := r.ensureIndex(ctx); err != nil {
		r.client.Close()
		return nil, err
	}
	return r, nil
}

// CreateRedis drops any existing index and its vectors, then creates an
// empty one with the given dimensionality.
func CreateRedis(cfg Config, dim int, logger *zap.Logger) (*Redis, error) {
	r, err := connectRedis(cfg, logger)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()

	drop := r.client.B().Arbitrary("FT.DROPINDEX").Args(r.indexName(), "DD").Build()
	if err := r.client.Do(ctx, drop).Error(); err != nil && !isRedisErr(err, "unknown index name") {
		r.client.Close()
		return nil, fmt.Errorf("ft.dropindex %s: %w", r.indexName(), err)
	}

	pin := r.client.B().Hset().Key(r.metaKey()).FieldValue().
		FieldValue("dim", strconv.Itoa(dim)).Build()
	if err := r.client.Do(ctx, pin).Error(); err != nil {
		r.client.Close()
		return nil, fmt.Errorf("pin index dim: %w", err)
	}
	r.dim = dim

	if err := r.ensureIndex(ctx); err != nil {
		r.client.Close()
		return nil, err
	}
	return r, nil
}

// LoadRedis connects to an index that must already exist;
// domain.ErrNotFound otherwise.
func LoadRedis(cfg Config, logger *zap.Logger) (*Redis, error) {
	r, err := connectRedis(cfg, logger)
	if err != nil {
		return nil, err
	}
	stored, err := r.storedDim(context.Background())
	if err != nil {
		r.client.Close()
		return nil, err
	}
	if stored == 0 {
		r.client.Close()
		return nil, fmt.Errorf("redis index %s: %w", r.indexName(), domain.ErrNotFound)
	}
	r.dim = stored
	return r, nil
}

func connectRedis(cfg Config, logger *zap.Logger) (*Redis, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis index: addrs is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Password:     cfg.Password,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "kbcrawl:"
	}
	return &Redis{client: client, prefix: prefix, logger: logger}, nil
}

func (r *Redis) metaKey() string   { return r.prefix + "meta" }
func (r *Redis) indexName() string { return r.prefix + "idx" }
func (r *Redis) vecKey(id int64) string {
	return r.prefix + "vec:" + strconv.FormatInt(id, 10)
}

func (r *Redis) storedDim(ctx context.Context) (int, error) {
	cmd := r.client.B().Hget().Key(r.metaKey()).Field("dim").Build()
	raw, err := r.client.Do(ctx, cmd).ToString()
	if rueidis.IsRedisNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read index dim: %w", err)
	}
	dim, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse index dim %q: %w", raw, err)
	}
	return dim, nil
}

func (r *Redis) ensureIndex(ctx context.Context) error {
	args := []string{
		r.indexName(), "ON", "HASH",
		"PREFIX", "1", r.prefix + "vec:",
		"SCHEMA", redisVectorField, "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(r.dim),
		"DISTANCE_METRIC", "L2",
	}
	cmd := r.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return fmt.Errorf("ft.create %s: %w", r.indexName(), err)
	}
	return nil
}

// Dim returns the pinned vector dimensionality.
func (r *Redis) Dim() int { return r.dim }

// Count returns the number of indexed vectors via a zero-limit search.
func (r *Redis) Count(ctx context.Context) (int, error) {
	cmd := r.client.B().Arbitrary("FT.SEARCH").
		Args(r.indexName(), "*", "LIMIT", "0", "0").Build()
	raw, err := r.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return 0, fmt.Errorf("ft.search count: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return int(total), nil
}

// Add stores vectors in one DoMulti round-trip.
func (r *Redis) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids/vectors length mismatch: %d != %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != r.dim {
			return fmt.Errorf("vector for id %d has dim %d, want %d: %w",
				id, len(vectors[i]), r.dim, domain.ErrDimensionMismatch)
		}
		cmds[i] = r.client.B().Hset().Key(r.vecKey(id)).FieldValue().
			FieldValue(redisVectorField, vectorToBlob(vectors[i])).Build()
	}
	for i, res := range r.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("hset vector %d: %w", ids[i], err)
		}
	}
	return nil
}

// Remove deletes the vector hashes in one DoMulti round-trip.
func (r *Redis) Remove(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	cmds := make([]rueidis.Completed, len(ids))
	for i, id := range ids {
		cmds[i] = r.client.B().Del().Key(r.vecKey(id)).Build()
	}
	for i, res := range r.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("del vector %d: %w", ids[i], err)
		}
	}
	return nil
}

// Search runs a KNN query and maps hash keys back to chunk ids. Result
// slices always have length k; empty slots hold NoResult.
func (r *Redis) Search(ctx context.Context, vector []float32, k int) ([]int64, []float32, error) {
	if len(vector) != r.dim {
		return nil, nil, fmt.Errorf("query vector has dim %d, want %d: %w",
			len(vector), r.dim, domain.ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil, fmt.Errorf("k must be positive, got %d", k)
	}

	query := fmt.Sprintf("*=>[KNN %d @%s $BLOB]", k, redisVectorField)
	cmd := r.client.B().Arbitrary("FT.SEARCH").Args(
		r.indexName(), query,
		"RETURN", "1", redisScoreField,
		"SORTBY", redisScoreField,
		"PARAMS", "2", "BLOB", vectorToBlob(vector),
		"DIALECT", "2",
	).Build()
	raw, err := r.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, nil, fmt.Errorf("ft.search knn: %w", err)
	}

	ids := make([]int64, k)
	dists := make([]float32, k)
	for i := range ids {
		ids[i] = NoResult
		dists[i] = float32(math.Inf(1))
	}

	// 2-stride: [total, key1, fields1, key2, fields2, ...]
	slot := 0
	for i := 1; i+1 < len(raw) && slot < k; i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(key, r.prefix+"vec:"), 10, 64)
		if err != nil {
			continue
		}
		fields, err := raw[i+1].AsStrMap()
		if err != nil {
			continue
		}
		dist := 0.0
		if scoreStr, ok := fields[redisScoreField]; ok {
			if parsed, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				dist = parsed
			}
		}
		ids[slot] = id
		dists[slot] = float32(dist)
		slot++
	}
	return ids, dists, nil
}

// Save is a no-op; the server owns durability.
func (r *Redis) Save(_ context.Context) error { return nil }

// Close shuts down the client.
func (r *Redis) Close() error {
	r.client.Close()
	return nil
}

// vectorToBlob serializes a vector to 4 bytes per float, little-endian.
func vectorToBlob(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}
