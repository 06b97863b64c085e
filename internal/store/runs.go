package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sagecloud/kbcrawl/internal/domain"
)

// CreateRun opens a new ingest run in the running state and returns its id.
func (s queries) CreateRun(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO ingest_runs(created_at, started_at, status, pages_crawled, documents_seen, chunks_embedded)
		VALUES (?, ?, ?, 0, 0, 0)`,
		now, now, domain.RunStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("create ingest run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ingest run id: %w", err)
	}
	return id, nil
}

// UpdateRunProgress records the run's live counters.
func (s queries) UpdateRunProgress(
	ctx context.Context, runID int64, pagesCrawled, documentsSeen, chunksEmbedded int,
) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE ingest_runs
		SET pages_crawled = ?, documents_seen = ?, chunks_embedded = ?
		WHERE id = ?`,
		pagesCrawled, documentsSeen, chunksEmbedded, runID,
	)
	if err != nil {
		return fmt.Errorf("update run %d progress: %w", runID, err)
	}
	return nil
}

// FinishRun closes the run with a terminal status, summary stats and an
// optional error message.
func (s queries) FinishRun(ctx context.Context, runID int64, status, statsJSON, errMsg string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE ingest_runs
		SET finished_at = ?, status = ?, stats_json = ?, error = ?
		WHERE id = ?`,
		formatTime(time.Now()), status, nullable(statsJSON), nullable(errMsg), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	return nil
}

// LatestRun returns the most recent ingest run, or domain.ErrNotFound when
// no run was ever recorded.
func (s queries) LatestRun(ctx context.Context) (*domain.IngestRun, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, created_at, started_at, finished_at, status, stats_json, error,
		       pages_crawled, documents_seen, chunks_embedded
		FROM ingest_runs
		ORDER BY id DESC
		LIMIT 1`)

	var (
		run                                       domain.IngestRun
		createdAt, startedAt, finishedAt          sql.NullString
		statsJSON, errMsg                         sql.NullString
		pagesCrawled, documentsSeen, chunksEmbedded sql.NullInt64
	)
	err := row.Scan(&run.ID, &createdAt, &startedAt, &finishedAt, &run.Status,
		&statsJSON, &errMsg, &pagesCrawled, &documentsSeen, &chunksEmbedded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select latest run: %w", err)
	}
	run.CreatedAt = parseTime(createdAt.String)
	run.StartedAt = parseTime(startedAt.String)
	run.FinishedAt = parseTime(finishedAt.String)
	run.StatsJSON = statsJSON.String
	run.Error = errMsg.String
	run.PagesCrawled = int(pagesCrawled.Int64)
	run.DocumentsSeen = int(documentsSeen.Int64)
	run.ChunksEmbedded = int(chunksEmbedded.Int64)
	return &run, nil
}
