package vecindex

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/domain"
)

func testFlat(t *testing.T, dim int) (*Flat, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.kbvi")
	return NewFlat(path, dim, zap.NewNop()), path
}

func TestFlatSearchOrdersByDistance(t *testing.T) {
	f, _ := testFlat(t, 2)
	ctx := context.Background()

	err := f.Add(ctx, []int64{1, 2, 3}, [][]float32{
		{0, 0},
		{3, 0},
		{1, 0},
	})
	if err != nil {
		t.Fatal(err)
	}

	ids, dists, err := f.Search(ctx, []float32{0.5, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 3, 2}
	for i, id := range ids {
		if id != want[i] {
			t.Errorf("ids = %v, want %v", ids, want)
			break
		}
	}
	if dists[0] != 0.25 {
		t.Errorf("nearest distance = %v, want 0.25", dists[0])
	}
}

func TestFlatSearchPadsMissingSlots(t *testing.T) {
	f, _ := testFlat(t, 2)
	ctx := context.Background()

	if err := f.Add(ctx, []int64{7}, [][]float32{{1, 1}}); err != nil {
		t.Fatal(err)
	}

	ids, dists, err := f.Search(ctx, []float32{0, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || len(dists) != 3 {
		t.Fatalf("result length = %d/%d, want 3/3", len(ids), len(dists))
	}
	if ids[0] != 7 {
		t.Errorf("ids = %v", ids)
	}
	for i := 1; i < 3; i++ {
		if ids[i] != NoResult {
			t.Errorf("slot %d = %d, want NoResult", i, ids[i])
		}
		if !math.IsInf(float64(dists[i]), 1) {
			t.Errorf("slot %d distance = %v, want +Inf", i, dists[i])
		}
	}
}

func TestFlatSaveAndLoad(t *testing.T) {
	f, path := testFlat(t, 3)
	ctx := context.Background()

	if err := f.Add(ctx, []int64{10, 20}, [][]float32{{1, 2, 3}, {4, 5, 6}}); err != nil {
		t.Fatal(err)
	}
	if err := f.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadFlat(path, zap.NewNop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Dim() != 3 {
		t.Errorf("dim = %d, want 3", loaded.Dim())
	}
	n, err := loaded.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	ids, _, err := loaded.Search(ctx, []float32{4, 5, 6}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ids[0] != 20 {
		t.Errorf("nearest = %d, want 20", ids[0])
	}
}

func TestLoadFlatMissingFile(t *testing.T) {
	_, err := LoadFlat(filepath.Join(t.TempDir(), "absent.kbvi"), zap.NewNop())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOpenFlatDimensionMismatch(t *testing.T) {
	f, path := testFlat(t, 4)
	ctx := context.Background()
	if err := f.Add(ctx, []int64{1}, [][]float32{{1, 2, 3, 4}}); err != nil {
		t.Fatal(err)
	}
	if err := f.Save(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenFlat(path, 8, zap.NewNop()); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}

	reopened, err := OpenFlat(path, 4, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen with matching dim: %v", err)
	}
	n, _ := reopened.Count(ctx)
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestNewFlatIgnoresExistingFile(t *testing.T) {
	f, path := testFlat(t, 2)
	ctx := context.Background()
	if err := f.Add(ctx, []int64{1}, [][]float32{{1, 1}}); err != nil {
		t.Fatal(err)
	}
	if err := f.Save(ctx); err != nil {
		t.Fatal(err)
	}

	fresh := NewFlat(path, 2, zap.NewNop())
	n, err := fresh.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("fresh index count = %d, want 0", n)
	}
}

func TestFlatAddReplacesExistingID(t *testing.T) {
	f, _ := testFlat(t, 2)
	ctx := context.Background()

	if err := f.Add(ctx, []int64{5}, [][]float32{{10, 10}}); err != nil {
		t.Fatal(err)
	}
	if err := f.Add(ctx, []int64{5}, [][]float32{{0, 0}}); err != nil {
		t.Fatal(err)
	}

	n, _ := f.Count(ctx)
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	_, dists, err := f.Search(ctx, []float32{0, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if dists[0] != 0 {
		t.Errorf("distance = %v, want 0 after replace", dists[0])
	}
}

func TestFlatRemove(t *testing.T) {
	f, _ := testFlat(t, 2)
	ctx := context.Background()

	if err := f.Add(ctx, []int64{1, 2, 3}, [][]float32{{0, 0}, {1, 1}, {2, 2}}); err != nil {
		t.Fatal(err)
	}
	if err := f.Remove(ctx, []int64{2, 99}); err != nil {
		t.Fatal(err)
	}

	n, _ := f.Count(ctx)
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	ids, _, err := f.Search(ctx, []float32{2, 2}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if ids[0] != 3 || ids[1] != 1 {
		t.Errorf("ids = %v, want [3 1]", ids)
	}
}

func TestFlatAddDimensionMismatch(t *testing.T) {
	f, _ := testFlat(t, 3)
	err := f.Add(context.Background(), []int64{1}, [][]float32{{1, 2}})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}
