package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sagecloud/kbcrawl/internal/domain"
)

// queries holds every SQL operation. It runs against either the bare handle
// or an open transaction, depending on the embedder.
type queries struct {
	q dbtx
}

// DocumentByURL returns the document stored under the exact URL, or
// domain.ErrNotFound.
func (s queries) DocumentByURL(ctx context.Context, url string) (*domain.Document, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, url, title, source_type, published_date, content_text,
		       content_hash, image_url, excluded, excluded_reason,
		       normalized_url, normalized_hash, text_length,
		       created_at, updated_at
		FROM documents WHERE url = ?`, url)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document by url: %w", err)
	}
	return doc, nil
}

// InsertDocument stores a new document and returns its id.
func (s queries) InsertDocument(ctx context.Context, doc *domain.Document) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO documents(
			url, title, source_type, published_date, content_text,
			content_hash, image_url, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.URL, doc.Title, doc.SourceType, nullable(doc.PublishedDate),
		doc.ContentText, doc.ContentHash, nullable(doc.ImageURL),
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("document insert id: %w", err)
	}
	return id, nil
}

// UpdateDocumentContent replaces a document's content and metadata in place.
func (s queries) UpdateDocumentContent(ctx context.Context, doc *domain.Document) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE documents
		SET title = ?, source_type = ?, published_date = ?, content_text = ?,
		    content_hash = ?, image_url = ?, updated_at = ?
		WHERE id = ?`,
		doc.Title, doc.SourceType, nullable(doc.PublishedDate), doc.ContentText,
		doc.ContentHash, nullable(doc.ImageURL), formatTime(doc.UpdatedAt), doc.ID,
	)
	if err != nil {
		return fmt.Errorf("update document %d: %w", doc.ID, err)
	}
	return nil
}

// TouchDocumentMeta backfills the published date and image of an unchanged
// document.
func (s queries) TouchDocumentMeta(
	ctx context.Context, id int64, publishedDate, imageURL string, updatedAt time.Time,
) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE documents
		SET published_date = ?, image_url = ?, updated_at = ?
		WHERE id = ?`,
		nullable(publishedDate), nullable(imageURL), formatTime(updatedAt), id,
	)
	if err != nil {
		return fmt.Errorf("touch document %d: %w", id, err)
	}
	return nil
}

// AuditRow is the document projection the sanitizer operates on.
type AuditRow struct {
	ID             int64
	URL            string
	ContentText    string
	ContentHash    string
	NormalizedHash string
	UpdatedAt      string
	Excluded       bool
}

// DocumentsForAudit returns every document row in id order for the
// sanitize pass.
func (s queries) DocumentsForAudit(ctx context.Context) ([]AuditRow, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, url, content_text, content_hash, normalized_hash, excluded, updated_at
		FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select documents for audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AuditRow
	for rows.Next() {
		var (
			r                                               AuditRow
			contentText, contentHash, normHash, updatedAt   sql.NullString
			excluded                                        sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.URL, &contentText, &contentHash,
			&normHash, &excluded, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		r.ContentText = contentText.String
		r.ContentHash = contentHash.String
		r.NormalizedHash = normHash.String
		r.UpdatedAt = updatedAt.String
		r.Excluded = excluded.Int64 != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateAudit writes the recomputed normalization columns for one document.
func (s queries) UpdateAudit(
	ctx context.Context, id int64,
	normalizedURL, canonicalURL string, textLength int, contentHash, normalizedHash string,
) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE documents
		SET normalized_url = ?, canonical_url = ?, text_length = ?,
		    content_hash = ?, normalized_hash = ?
		WHERE id = ?`,
		normalizedURL, canonicalURL, textLength, contentHash, normalizedHash, id,
	)
	if err != nil {
		return fmt.Errorf("update audit %d: %w", id, err)
	}
	return nil
}

// ExcludeDocument marks a document excluded with a reason. Already-excluded
// documents keep their original reason.
func (s queries) ExcludeDocument(ctx context.Context, id int64, reason string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE documents
		SET excluded = 1, excluded_reason = ?
		WHERE id = ? AND (excluded IS NULL OR excluded = 0)`,
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("exclude document %d: %w", id, err)
	}
	return nil
}

// CountDocuments returns total and excluded document counts.
func (s queries) CountDocuments(ctx context.Context) (total, excluded int, err error) {
	err = s.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN excluded = 1 THEN 1 ELSE 0 END), 0)
		FROM documents`).Scan(&total, &excluded)
	if err != nil {
		return 0, 0, fmt.Errorf("count documents: %w", err)
	}
	return total, excluded, nil
}

func scanDocument(row *sql.Row) (*domain.Document, error) {
	var (
		doc                                          domain.Document
		publishedDate, imageURL, excludedReason      sql.NullString
		normalizedURL, normalizedHash                sql.NullString
		createdAt, updatedAt                         sql.NullString
		excluded, textLength                         sql.NullInt64
	)
	err := row.Scan(
		&doc.ID, &doc.URL, &doc.Title, &doc.SourceType, &publishedDate,
		&doc.ContentText, &doc.ContentHash, &imageURL, &excluded,
		&excludedReason, &normalizedURL, &normalizedHash, &textLength,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.PublishedDate = publishedDate.String
	doc.ImageURL = imageURL.String
	doc.Excluded = excluded.Int64 != 0
	doc.ExcludedReason = excludedReason.String
	doc.NormalizedURL = normalizedURL.String
	doc.NormalizedHash = normalizedHash.String
	doc.TextLength = int(textLength.Int64)
	doc.CreatedAt = parseTime(createdAt.String)
	doc.UpdatedAt = parseTime(updatedAt.String)
	return &doc, nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
