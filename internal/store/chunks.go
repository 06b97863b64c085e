package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sagecloud/kbcrawl/internal/domain"
)

// eligibleJoin restricts chunk queries to documents the sanitizer has not
// excluded.
const eligibleJoin = `
	FROM chunks
	JOIN documents ON chunks.document_id = documents.id
	WHERE documents.excluded IS NULL OR documents.excluded = 0`

// ChunkIDs returns the ids of all chunks belonging to a document.
func (s queries) ChunkIDs(ctx context.Context, documentID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT id FROM chunks WHERE document_id = ?", documentID)
	if err != nil {
		return nil, fmt.Errorf("select chunk ids for document %d: %w", documentID, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteChunksForDocument removes every chunk of a document.
func (s queries) DeleteChunksForDocument(ctx context.Context, documentID int64) error {
	if _, err := s.q.ExecContext(ctx,
		"DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("delete chunks for document %d: %w", documentID, err)
	}
	return nil
}

// InsertChunk stores one chunk and returns its id, which doubles as the
// chunk's vector id in the index.
func (s queries) InsertChunk(ctx context.Context, ch *domain.Chunk) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO chunks(document_id, chunk_index, heading, chunk_text)
		VALUES (?, ?, ?, ?)`,
		ch.DocumentID, ch.Index, nullable(ch.Heading), ch.Text,
	)
	if err != nil {
		return 0, fmt.Errorf("insert chunk: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("chunk insert id: %w", err)
	}
	return id, nil
}

// RetrievedByIDs returns the chunks joined with their document metadata,
// keyed by chunk id. Missing ids are silently absent from the map.
func (s queries) RetrievedByIDs(ctx context.Context, ids []int64) (map[int64]domain.RetrievedChunk, error) {
	if len(ids) == 0 {
		return map[int64]domain.RetrievedChunk{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT chunks.id, chunks.chunk_text, chunks.heading,
		       documents.title, documents.url, documents.source_type,
		       documents.image_url, documents.published_date
		FROM chunks
		JOIN documents ON chunks.document_id = documents.id
		WHERE chunks.id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("select chunks by ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64]domain.RetrievedChunk, len(ids))
	for rows.Next() {
		var (
			rc                                domain.RetrievedChunk
			heading, imageURL, publishedDate  sql.NullString
		)
		if err := rows.Scan(&rc.ChunkID, &rc.Text, &heading, &rc.Title,
			&rc.URL, &rc.SourceType, &imageURL, &publishedDate); err != nil {
			return nil, fmt.Errorf("scan retrieved chunk: %w", err)
		}
		rc.Heading = heading.String
		rc.ImageURL = imageURL.String
		rc.PublishedDate = publishedDate.String
		out[rc.ChunkID] = rc
	}
	return out, rows.Err()
}

// CountEligibleChunks returns the number of chunks whose documents are not
// excluded, plus the number of distinct documents carrying them.
func (s queries) CountEligibleChunks(ctx context.Context) (chunks, documents int, err error) {
	if err = s.q.QueryRowContext(ctx,
		"SELECT COUNT(*)"+eligibleJoin).Scan(&chunks); err != nil {
		return 0, 0, fmt.Errorf("count eligible chunks: %w", err)
	}
	if err = s.q.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT documents.id)"+eligibleJoin).Scan(&documents); err != nil {
		return 0, 0, fmt.Errorf("count eligible documents: %w", err)
	}
	return chunks, documents, nil
}

// EligibleChunks streams (id, text) for every eligible chunk in id order.
func (s queries) EligibleChunks(ctx context.Context, fn func(id int64, text string) error) error {
	rows, err := s.q.QueryContext(ctx,
		"SELECT chunks.id, chunks.chunk_text"+eligibleJoin+" ORDER BY chunks.id")
	if err != nil {
		return fmt.Errorf("select eligible chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id   int64
			text string
		)
		if err := rows.Scan(&id, &text); err != nil {
			return fmt.Errorf("scan eligible chunk: %w", err)
		}
		if err := fn(id, text); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountChunks returns the total chunk count, eligible or not.
func (s queries) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}
