package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kb.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDoc(url string) *domain.Document {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Document{
		URL:           url,
		Title:         "Title",
		SourceType:    "editorial",
		PublishedDate: "2025-05-01",
		ContentText:   "some body text",
		ContentHash:   "hash-1",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.DocumentByURL(ctx, "https://example.com/a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing document: err = %v, want ErrNotFound", err)
	}

	doc := testDoc("https://example.com/a")
	id, err := s.InsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.DocumentByURL(ctx, doc.URL)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.ID != id || got.Title != doc.Title || got.ContentHash != doc.ContentHash {
		t.Errorf("got %+v", got)
	}
	if got.PublishedDate != "2025-05-01" || got.Excluded {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, doc.CreatedAt)
	}
}

func TestUpdateDocumentContent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	doc := testDoc("https://example.com/a")
	id, err := s.InsertDocument(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}

	doc.ID = id
	doc.Title = "New Title"
	doc.ContentText = "updated text"
	doc.ContentHash = "hash-2"
	doc.UpdatedAt = doc.UpdatedAt.Add(time.Hour)
	if err := s.UpdateDocumentContent(ctx, doc); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.DocumentByURL(ctx, doc.URL)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "New Title" || got.ContentHash != "hash-2" {
		t.Errorf("got %+v", got)
	}
	if !got.UpdatedAt.Equal(doc.UpdatedAt) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, doc.UpdatedAt)
	}
}

func TestTouchDocumentMeta(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	doc := testDoc("https://example.com/a")
	doc.PublishedDate = ""
	id, err := s.InsertDocument(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}

	touched := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	if err := s.TouchDocumentMeta(ctx, id, "2025-06-15", "https://example.com/img.jpg", touched); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := s.DocumentByURL(ctx, doc.URL)
	if err != nil {
		t.Fatal(err)
	}
	if got.PublishedDate != "2025-06-15" || got.ImageURL != "https://example.com/img.jpg" {
		t.Errorf("got %+v", got)
	}
}

func TestChunksLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	docID, err := s.InsertDocument(ctx, testDoc("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}

	var ids []int64
	for i, text := range []string{"first chunk", "second chunk"} {
		id, err := s.InsertChunk(ctx, &domain.Chunk{
			DocumentID: docID, Index: i, Heading: "Section", Text: text,
		})
		if err != nil {
			t.Fatalf("insert chunk %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	gotIDs, err := s.ChunkIDs(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotIDs) != 2 {
		t.Fatalf("chunk ids = %v", gotIDs)
	}

	retrieved, err := s.RetrievedByIDs(ctx, append(ids, 9999))
	if err != nil {
		t.Fatal(err)
	}
	if len(retrieved) != 2 {
		t.Fatalf("retrieved = %d rows, want 2", len(retrieved))
	}
	rc := retrieved[ids[0]]
	if rc.Text != "first chunk" || rc.Heading != "Section" || rc.URL != "https://example.com/a" {
		t.Errorf("retrieved chunk = %+v", rc)
	}

	if err := s.DeleteChunksForDocument(ctx, docID); err != nil {
		t.Fatal(err)
	}
	gotIDs, err = s.ChunkIDs(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotIDs) != 0 {
		t.Errorf("chunk ids after delete = %v", gotIDs)
	}
}

func TestEligibleChunksExcludesSanitizedDocuments(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	keepID, err := s.InsertDocument(ctx, testDoc("https://example.com/keep"))
	if err != nil {
		t.Fatal(err)
	}
	dropID, err := s.InsertDocument(ctx, testDoc("https://example.com/drop"))
	if err != nil {
		t.Fatal(err)
	}
	for _, docID := range []int64{keepID, dropID} {
		if _, err := s.InsertChunk(ctx, &domain.Chunk{DocumentID: docID, Text: "text"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.ExcludeDocument(ctx, dropID, "junk:/tag/"); err != nil {
		t.Fatal(err)
	}

	chunks, docs, err := s.CountEligibleChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if chunks != 1 || docs != 1 {
		t.Errorf("eligible = %d chunks / %d docs, want 1/1", chunks, docs)
	}

	total, err := s.CountChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("total chunks = %d, want 2", total)
	}

	var streamed []string
	err = s.EligibleChunks(ctx, func(_ int64, text string) error {
		streamed = append(streamed, text)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(streamed) != 1 {
		t.Errorf("streamed %d chunks, want 1", len(streamed))
	}

	docTotal, excluded, err := s.CountDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if docTotal != 2 || excluded != 1 {
		t.Errorf("documents = %d total / %d excluded, want 2/1", docTotal, excluded)
	}
}

func TestExcludeDocumentKeepsFirstReason(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.InsertDocument(ctx, testDoc("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ExcludeDocument(ctx, id, "short_text:10:2"); err != nil {
		t.Fatal(err)
	}
	if err := s.ExcludeDocument(ctx, id, "duplicate_url:5"); err != nil {
		t.Fatal(err)
	}

	got, err := s.DocumentByURL(ctx, "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Excluded || got.ExcludedReason != "short_text:10:2" {
		t.Errorf("got excluded=%v reason=%q", got.Excluded, got.ExcludedReason)
	}
}

func TestRunsLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.LatestRun(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("latest run on empty table: err = %v, want ErrNotFound", err)
	}

	runID, err := s.CreateRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateRunProgress(ctx, runID, 10, 8, 42); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun(ctx, runID, domain.RunStatusComplete, `{"ok":true}`, ""); err != nil {
		t.Fatal(err)
	}

	run, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run.ID != runID || run.Status != domain.RunStatusComplete {
		t.Errorf("run = %+v", run)
	}
	if run.PagesCrawled != 10 || run.DocumentsSeen != 8 || run.ChunksEmbedded != 42 {
		t.Errorf("run counters = %+v", run)
	}
	if run.StatsJSON != `{"ok":true}` || run.Error != "" {
		t.Errorf("run summary = %+v", run)
	}
	if run.FinishedAt.IsZero() {
		t.Error("finished_at not set")
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.InsertDocument(ctx, testDoc("https://example.com/a")); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	if _, err := s.DocumentByURL(ctx, "https://example.com/a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("document should have been rolled back, err = %v", err)
	}
}

func TestUpdateAudit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.InsertDocument(ctx, testDoc("https://example.com/a?utm_source=x"))
	if err != nil {
		t.Fatal(err)
	}
	err = s.UpdateAudit(ctx, id, "https://example.com/a", "https://example.com/a", 14, "hash-1", "norm-1")
	if err != nil {
		t.Fatal(err)
	}

	rows, err := s.DocumentsForAudit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("audit rows = %d", len(rows))
	}
	if rows[0].NormalizedHash != "norm-1" || rows[0].ContentHash != "hash-1" {
		t.Errorf("audit row = %+v", rows[0])
	}
}
