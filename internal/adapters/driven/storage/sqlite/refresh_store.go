package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// refreshColumns lists the columns read by scanRefresh, in order.
const refreshColumns = `cycle_id, source_ref, state, total_documents, total_batches,
	succeeded_batches, failed_batches, skipped_documents, batch_ids, build_task_id,
	version_id, started_at, ended_at, embed_duration_ms, docs_per_second, error`

// refreshStore implements driven.RefreshStore.
type refreshStore struct {
	store *Store
}

var _ driven.RefreshStore = (*refreshStore)(nil)

// Save creates or replaces the record of a cycle.
func (s *refreshStore) Save(ctx context.Context, stats domain.RefreshStats) error {
	if stats.CycleID == "" {
		return fmt.Errorf("%w: refresh cycle without id", domain.ErrInvalidInput)
	}
	batchIDs, err := json.Marshal(stats.BatchIDs)
	if err != nil {
		return fmt.Errorf("marshalling batch ids: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO refresh_cycles (`+refreshColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cycle_id) DO UPDATE SET
			source_ref = excluded.source_ref,
			state = excluded.state,
			total_documents = excluded.total_documents,
			total_batches = excluded.total_batches,
			succeeded_batches = excluded.succeeded_batches,
			failed_batches = excluded.failed_batches,
			skipped_documents = excluded.skipped_documents,
			batch_ids = excluded.batch_ids,
			build_task_id = excluded.build_task_id,
			version_id = excluded.version_id,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			embed_duration_ms = excluded.embed_duration_ms,
			docs_per_second = excluded.docs_per_second,
			error = excluded.error
	`, stats.CycleID, stats.SourceRef, string(stats.State), stats.TotalDocuments,
		stats.TotalBatches, stats.SucceededBatches, stats.FailedBatches, stats.SkippedDocuments,
		string(batchIDs), nullString(stats.BuildTaskID), nullString(stats.VersionID),
		stats.StartedAt.UnixNano(), unixNanos(stats.EndedAt), stats.EmbedDuration.Milliseconds(),
		stats.DocsPerSecond, nullString(stats.Error))
	if err != nil {
		return fmt.Errorf("saving refresh cycle: %w", err)
	}
	return nil
}

// Get returns the record of a cycle.
func (s *refreshStore) Get(ctx context.Context, cycleID string) (*domain.RefreshStats, error) {
	row := s.store.db.QueryRowContext(ctx,
		"SELECT "+refreshColumns+" FROM refresh_cycles WHERE cycle_id = ?", cycleID)
	stats, err := scanRefresh(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: refresh cycle %s", domain.ErrNotFound, cycleID)
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// List returns the most recent cycles, newest first.
func (s *refreshStore) List(ctx context.Context, limit int) ([]domain.RefreshStats, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.store.db.QueryContext(ctx,
		"SELECT "+refreshColumns+" FROM refresh_cycles ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying refresh cycles: %w", err)
	}
	defer rows.Close()

	var cycles []domain.RefreshStats //nolint:prealloc // size unknown from query
	for rows.Next() {
		stats, err := scanRefresh(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, *stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating refresh cycles: %w", err)
	}
	return cycles, nil
}

// scanRefresh scans a refresh cycle row selected with refreshColumns.
func scanRefresh(row rowScanner) (*domain.RefreshStats, error) {
	var stats domain.RefreshStats
	var state string
	var batchIDs, buildTaskID, versionID, errMsg sql.NullString
	var startedAt int64
	var endedAt sql.NullInt64
	var embedMillis int64

	if err := row.Scan(&stats.CycleID, &stats.SourceRef, &state, &stats.TotalDocuments,
		&stats.TotalBatches, &stats.SucceededBatches, &stats.FailedBatches, &stats.SkippedDocuments,
		&batchIDs, &buildTaskID, &versionID, &startedAt, &endedAt, &embedMillis,
		&stats.DocsPerSecond, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning refresh cycle: %w", err)
	}

	stats.State = domain.RefreshState(state)
	if batchIDs.Valid && batchIDs.String != "" {
		if err := json.Unmarshal([]byte(batchIDs.String), &stats.BatchIDs); err != nil {
			return nil, fmt.Errorf("decoding batch ids of %s: %w", stats.CycleID, err)
		}
	}
	stats.BuildTaskID = buildTaskID.String
	stats.VersionID = versionID.String
	stats.Error = errMsg.String
	stats.StartedAt = time.Unix(0, startedAt).UTC()
	stats.EndedAt = fromUnixNanos(endedAt)
	stats.EmbedDuration = time.Duration(embedMillis) * time.Millisecond
	return &stats, nil
}
