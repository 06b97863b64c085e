package retrieve

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/domain"
	"github.com/sagecloud/kbcrawl/internal/vecindex"
)

type fakeIndex struct {
	ids   []int64
	dists []float32
}

func (f *fakeIndex) Dim() int { return 3 }

func (f *fakeIndex) Count(context.Context) (int, error) { return len(f.ids), nil }

func (f *fakeIndex) Add(context.Context, []int64, [][]float32) error { return nil }

func (f *fakeIndex) Remove(context.Context, []int64) error { return nil }

func (f *fakeIndex) Save(context.Context) error { return nil }

func (f *fakeIndex) Close() error { return nil }

func (f *fakeIndex) Search(_ context.Context, _ []float32, k int) ([]int64, []float32, error) {
	ids := make([]int64, k)
	dists := make([]float32, k)
	for i := 0; i < k; i++ {
		if i < len(f.ids) {
			ids[i] = f.ids[i]
			dists[i] = f.dists[i]
		} else {
			ids[i] = vecindex.NoResult
			dists[i] = float32(math.Inf(1))
		}
	}
	return ids, dists, nil
}

type fakeChunks struct {
	rows map[int64]domain.RetrievedChunk
}

func (f *fakeChunks) RetrievedByIDs(_ context.Context, ids []int64) (map[int64]domain.RetrievedChunk, error) {
	out := map[int64]domain.RetrievedChunk{}
	for _, id := range ids {
		if row, ok := f.rows[id]; ok {
			out[id] = row
		}
	}
	return out, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func testConfig() Config {
	return Config{
		TopK:           8,
		ShoppingTerms:  []string{"buy", "shop", "order"},
		CuratedBonus:   0.2,
		EditorialBonus: 0.1,
		RecencyBonuses: []float64{0.15, 0.1, 0.05},
	}
}

func testService(index vecindex.Index, rows map[int64]domain.RetrievedChunk, now time.Time) *Service {
	s := New(index, &fakeChunks{rows: rows}, fakeEmbedder{}, testConfig(), zap.NewNop())
	s.now = func() time.Time { return now }
	return s
}

func TestRetrieveNilIndexReturnsNothing(t *testing.T) {
	s := testService(nil, nil, time.Now())
	results, err := s.Retrieve(context.Background(), "anything", 5)
	if err != nil {
		t.Fatal(err)
	}
	if results != nil {
		t.Errorf("results = %v, want none", results)
	}
}

func TestRetrieveBaseScoreIsNegatedDistance(t *testing.T) {
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	index := &fakeIndex{ids: []int64{1, 2}, dists: []float32{0.5, 0.25}}
	rows := map[int64]domain.RetrievedChunk{
		1: {ChunkID: 1, SourceType: "other"},
		2: {ChunkID: 2, SourceType: "other"},
	}
	s := testService(index, rows, now)

	results, err := s.Retrieve(context.Background(), "chile history", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].ChunkID != 2 || results[0].Score != -0.25 {
		t.Errorf("best = %+v", results[0])
	}
	if results[1].ChunkID != 1 || results[1].Score != -0.5 {
		t.Errorf("second = %+v", results[1])
	}
}

func TestRetrieveCuratedBonusOnShoppingQuery(t *testing.T) {
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	index := &fakeIndex{ids: []int64{1, 2}, dists: []float32{0.3, 0.3}}
	rows := map[int64]domain.RetrievedChunk{
		1: {ChunkID: 1, SourceType: SourceEditorial},
		2: {ChunkID: 2, SourceType: SourceCurated},
	}
	s := testService(index, rows, now)

	results, err := s.Retrieve(context.Background(), "where to buy green chile", 2)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].ChunkID != 2 {
		t.Errorf("shopping query should rank curated first: %+v", results)
	}
	if got := results[0].Score; math.Abs(got-(-0.3+0.2)) > 1e-9 {
		t.Errorf("curated score = %v", got)
	}
	// Editorial gets nothing on a shopping query.
	if got := results[1].Score; math.Abs(got-(-0.3)) > 1e-9 {
		t.Errorf("editorial score = %v", got)
	}
}

func TestRetrieveEditorialBonusOnNonShoppingQuery(t *testing.T) {
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	index := &fakeIndex{ids: []int64{1, 2}, dists: []float32{0.3, 0.3}}
	rows := map[int64]domain.RetrievedChunk{
		1: {ChunkID: 1, SourceType: SourceCurated},
		2: {ChunkID: 2, SourceType: SourceEditorial},
	}
	s := testService(index, rows, now)

	results, err := s.Retrieve(context.Background(), "history of chile roasting", 2)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].ChunkID != 2 {
		t.Errorf("non-shopping query should rank editorial first: %+v", results)
	}
	if got := results[0].Score; math.Abs(got-(-0.3+0.1)) > 1e-9 {
		t.Errorf("editorial score = %v", got)
	}
}

func TestRetrieveRecencyLadder(t *testing.T) {
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name      string
		published string
		want      float64
	}{
		{"fresh", "2025-07-01", 0.15},
		{"within a year", "2025-01-01T12:00:00Z", 0.1},
		{"within two years", "2024-01-01", 0.05},
		{"old", "2020-01-01", 0},
		{"unparseable", "last summer", 0},
		{"missing", "", 0},
		{"noisy suffix", "2025-07-01 12:00:00 MST", 0.15},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			index := &fakeIndex{ids: []int64{1}, dists: []float32{0}}
			rows := map[int64]domain.RetrievedChunk{
				1: {ChunkID: 1, SourceType: "other", PublishedDate: tc.published},
			}
			s := testService(index, rows, now)
			results, err := s.Retrieve(context.Background(), "chile", 1)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 1 {
				t.Fatalf("results = %d", len(results))
			}
			if math.Abs(results[0].Score-tc.want) > 1e-9 {
				t.Errorf("score = %v, want %v", results[0].Score, tc.want)
			}
		})
	}
}

func TestRetrieveDropsMissingRowsAndPadding(t *testing.T) {
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	index := &fakeIndex{ids: []int64{1, 2}, dists: []float32{0.1, 0.2}}
	rows := map[int64]domain.RetrievedChunk{
		1: {ChunkID: 1, SourceType: "other"},
		// id 2 deleted from the store since indexing
	}
	s := testService(index, rows, now)

	results, err := s.Retrieve(context.Background(), "chile", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ChunkID != 1 {
		t.Errorf("results = %+v", results)
	}
}

func TestRetrieveEmptyIndex(t *testing.T) {
	s := testService(&fakeIndex{}, map[int64]domain.RetrievedChunk{}, time.Now())
	results, err := s.Retrieve(context.Background(), "chile", 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v", results)
	}
}
