// Package sanitize is the offline audit pass: it recomputes document
// fingerprints, excludes junk and short pages, and collapses duplicates to a
// single canonical document.
package sanitize

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/content"
	"github.com/sagecloud/kbcrawl/internal/crawler"
	"github.com/sagecloud/kbcrawl/internal/store"
)

// Config holds the exclusion thresholds.
type Config struct {
	MinChars     int
	MinWords     int
	JunkPatterns []string
}

// Service runs the sanitize pass.
type Service struct {
	store  *store.Store
	cfg    Config
	logger *zap.Logger
}

// New creates a sanitize service.
func New(st *store.Store, cfg Config, logger *zap.Logger) *Service {
	return &Service{store: st, cfg: cfg, logger: logger}
}

// Summary counts the changes a sanitize pass computed (and, when applied,
// wrote).
type Summary struct {
	RowsTotal   int `json:"rows_total"`
	Updates     int `json:"updates"`
	JunkUpdates int `json:"junk_updates"`
	DedupeURL   int `json:"dedupe_url"`
	DedupeHash  int `json:"dedupe_hash"`
}

type audited struct {
	id             int64
	normalizedURL  string
	normalizedHash string
	textLength     int
	updatedAt      string
	excluded       bool
}

// Run audits every document. With apply false it only reports what would
// change; with apply true all updates run inside one transaction.
func (s *Service) Run(ctx context.Context, apply bool) (*Summary, error) {
	rows, err := s.store.DocumentsForAudit(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{RowsTotal: len(rows)}
	computed := make([]audited, 0, len(rows))
	exclusions := map[int64]string{}

	for _, row := range rows {
		text := row.ContentText
		words := len(strings.Fields(text))
		length := len(text)
		normalizedURL := crawler.Normalize(row.URL)

		contentHash := row.ContentHash
		if contentHash == "" {
			contentHash = content.HashText(text)
		}
		normalizedHash := row.NormalizedHash
		if normalizedHash == "" {
			normalizedHash = content.NormalizedHash(text)
		}

		computed = append(computed, audited{
			id:             row.ID,
			normalizedURL:  normalizedURL,
			normalizedHash: normalizedHash,
			textLength:     length,
			updatedAt:      row.UpdatedAt,
			excluded:       row.Excluded,
		})
		summary.Updates++

		if reason := s.junkReason(row.URL, text, length, words); reason != "" {
			exclusions[row.ID] = reason
			summary.JunkUpdates++
		}
	}

	summary.DedupeURL = dedupe(computed, exclusions, "duplicate_url",
		func(a audited) string { return a.normalizedURL })
	summary.DedupeHash = dedupe(computed, exclusions, "duplicate_text",
		func(a audited) string { return a.normalizedHash })

	if !apply {
		s.logger.Info("sanitize dry-run",
			zap.Int("rows", summary.RowsTotal),
			zap.Int("junk", summary.JunkUpdates),
			zap.Int("dedupe_url", summary.DedupeURL),
			zap.Int("dedupe_hash", summary.DedupeHash),
		)
		return summary, nil
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, row := range rows {
			a := find(computed, row.ID)
			if err := tx.UpdateAudit(ctx, row.ID,
				a.normalizedURL, a.normalizedURL, a.textLength,
				firstNonEmpty(row.ContentHash, content.HashText(row.ContentText)),
				a.normalizedHash,
			); err != nil {
				return err
			}
		}
		for id, reason := range exclusions {
			if err := tx.ExcludeDocument(ctx, id, reason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	s.logger.Info("sanitize applied",
		zap.Int("rows", summary.RowsTotal),
		zap.Int("junk", summary.JunkUpdates),
		zap.Int("dedupe_url", summary.DedupeURL),
		zap.Int("dedupe_hash", summary.DedupeHash),
	)
	return summary, nil
}

// junkReason classifies a document as junk, or returns "".
func (s *Service) junkReason(url, text string, length, words int) string {
	if strings.TrimSpace(text) == "" {
		return "empty_text"
	}
	if length < s.cfg.MinChars || words < s.cfg.MinWords {
		return fmt.Sprintf("short_text:%d:%d", length, words)
	}
	for _, pattern := range s.cfg.JunkPatterns {
		if strings.Contains(url, pattern) {
			return "junk:" + pattern
		}
	}
	return ""
}

// dedupe groups documents by key and marks every non-canonical member of a
// group excluded. The canonical document is the one with the longest text,
// ties broken by most recent update. Already-excluded documents are never
// re-marked. Returns the number of new exclusions.
func dedupe(
	computed []audited, exclusions map[int64]string, reasonPrefix string,
	key func(audited) string,
) int {
	groups := map[string][]audited{}
	for _, a := range computed {
		groups[key(a)] = append(groups[key(a)], a)
	}

	marked := 0
	for _, group := range groups {
		if len(group) <= 1 {
			continue
		}
		canonical := pickCanonical(group)
		for _, a := range group {
			if a.id == canonical.id || a.excluded {
				continue
			}
			if _, already := exclusions[a.id]; already {
				continue
			}
			exclusions[a.id] = fmt.Sprintf("%s:%d", reasonPrefix, canonical.id)
			marked++
		}
	}
	return marked
}

func pickCanonical(group []audited) audited {
	sorted := make([]audited, len(group))
	copy(sorted, group)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].textLength != sorted[j].textLength {
			return sorted[i].textLength > sorted[j].textLength
		}
		return sorted[i].updatedAt > sorted[j].updatedAt
	})
	return sorted[0]
}

func find(computed []audited, id int64) audited {
	for _, a := range computed {
		if a.id == id {
			return a
		}
	}
	return audited{id: id}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
