package postgres

import (
	"context"
	"fmt"
	"time"
)

// ArchiveFinishedRuns rolls terminal runs older than olderThan (plus their
// run_errors) into the *_archive tables and removes them from the hot
// tables, bounded by limit per call. Adapted from the teacher's
// internal/archiver.Archiver.archiveRuns, which moved rows from the Redis
// hot store into Postgres; CARROT has one store, so this moves rows
// between two Postgres table families instead, all inside one transaction
// so a run is never visible in neither or both places at once.
func (s *Store) ArchiveFinishedRuns(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO runs_archive
		SELECT *, NOW() FROM runs
		WHERE finished_at IS NOT NULL AND finished_at < $1
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("copy runs to archive: %w", err)
	}
	archived := int(tag.RowsAffected())
	if archived == 0 {
		return 0, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO run_errors_archive
		SELECT e.* FROM run_errors e
		JOIN runs_archive a ON a.run_id = e.run_id
	`); err != nil {
		return 0, fmt.Errorf("copy run errors to archive: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM run_errors WHERE run_id IN (SELECT run_id FROM runs_archive)
	`); err != nil {
		return 0, fmt.Errorf("delete archived run errors: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM runs WHERE run_id IN (SELECT run_id FROM runs_archive)
	`); err != nil {
		return 0, fmt.Errorf("delete archived runs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit archive tx: %w", err)
	}
	return archived, nil
}
