package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// CreateRun inserts a new run in the carrottypes.RunCreated state.
func (s *Store) CreateRun(ctx context.Context, r carrottypes.Run) error {
	testOpts, err := marshalOptional(r.TestOptions)
	if err != nil {
		return err
	}
	evalOpts, err := marshalOptional(r.EvalOptions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (run_id, test_id, name, status, version, test_input, test_options,
			eval_input, eval_options, test_wdl, test_wdl_dependencies, eval_wdl, eval_wdl_dependencies,
			test_cromwell_job_id, eval_cromwell_job_id, created_at, created_by, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, r.RunID, r.TestID, r.Name, string(r.Status), r.Version, r.TestInput, testOpts,
		r.EvalInput, evalOpts, r.TestWDL, r.TestWDLDependencies, r.EvalWDL, r.EvalWDLDependencies,
		r.TestCromwellJobID, r.EvalCromwellJobID, r.CreatedAt, r.CreatedBy, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun fetches a single run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*carrottypes.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, test_id, name, status, version, test_input, test_options,
			eval_input, eval_options, test_wdl, test_wdl_dependencies, eval_wdl, eval_wdl_dependencies,
			test_cromwell_job_id, eval_cromwell_job_id, created_at, created_by, finished_at
		FROM runs WHERE run_id = $1
	`, id)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRunsByStatus fetches runs in any of the given states, used by the
// Status Manager sweep (spec §4.2) to select rows needing a poll.
func (s *Store) ListRunsByStatus(ctx context.Context, statuses []carrottypes.RunStatus, limit int) ([]carrottypes.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, test_id, name, status, version, test_input, test_options,
			eval_input, eval_options, test_wdl, test_wdl_dependencies, eval_wdl, eval_wdl_dependencies,
			test_cromwell_job_id, eval_cromwell_job_id, created_at, created_by, finished_at
		FROM runs WHERE status = ANY($1) ORDER BY created_at ASC LIMIT $2
	`, statusStrings(statuses), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by status: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListStaleRuns fetches runs in the given (non-terminal) states whose
// created_at is before olderThan, used by the watchdog (SPEC_FULL.md §4.8) to detect stuck runs.
func (s *Store) ListStaleRuns(ctx context.Context, olderThan time.Time, statuses []carrottypes.RunStatus) ([]carrottypes.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, test_id, name, status, version, test_input, test_options,
			eval_input, eval_options, test_wdl, test_wdl_dependencies, eval_wdl, eval_wdl_dependencies,
			test_cromwell_job_id, eval_cromwell_job_id, created_at, created_by, finished_at
		FROM runs WHERE status = ANY($1) AND created_at < $2
	`, statusStrings(statuses), olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// TransitionRun applies a CAS-guarded FSM move, generalized from the
// teacher's Provider.CompareAndSwapRunState. Per Open Question 1 (see
// DESIGN.md), the status update and the run_errors append commit in the
// same transaction: a run_errors row never survives without the status
// change it explains, and vice versa.
func (s *Store) TransitionRun(ctx context.Context, runID string, expectedVersion int, newStatus carrottypes.RunStatus, errMsg string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	finishedAt := (*time.Time)(nil)
	if terminalStatus(newStatus) {
		now := time.Now()
		finishedAt = &now
	}

	tag, err := tx.Exec(ctx, `
		UPDATE runs SET status = $1, version = version + 1, finished_at = $2
		WHERE run_id = $3 AND version = $4
	`, string(newStatus), finishedAt, runID, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if errMsg != "" {
		if _, err := tx.Exec(ctx, `
			INSERT INTO run_errors (run_error_id, run_id, message, created_at) VALUES ($1, $2, $3, NOW())
		`, ulid.Make().String(), runID, errMsg); err != nil {
			return false, fmt.Errorf("insert run error: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transition: %w", err)
	}
	return true, nil
}

// SetRunCromwellJobID idempotently persists the engine job id(s) assigned
// at submission (spec §4.4 invariant: submit-then-persist-then-transition).
func (s *Store) SetRunCromwellJobID(ctx context.Context, runID string, testJobID, evalJobID *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs SET
			test_cromwell_job_id = COALESCE($2, test_cromwell_job_id),
			eval_cromwell_job_id = COALESCE($3, eval_cromwell_job_id)
		WHERE run_id = $1
	`, runID, testJobID, evalJobID)
	if err != nil {
		return fmt.Errorf("set cromwell job id: %w", err)
	}
	return nil
}

// AttachRunSoftwareVersion records which software_version a run built
// against (spec §4.3), for reproducibility and reporting.
func (s *Store) AttachRunSoftwareVersion(ctx context.Context, rv carrottypes.RunSoftwareVersion) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_software_versions (run_id, software_version_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, rv.RunID, rv.SoftwareVersionID)
	if err != nil {
		return fmt.Errorf("attach run software version: %w", err)
	}
	return nil
}

// AppendRunResult stores one extracted result value for a finished run.
func (s *Store) AppendRunResult(ctx context.Context, rr carrottypes.RunResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_results (run_id, result_id, value) VALUES ($1, $2, $3)
		ON CONFLICT (run_id, result_id) DO UPDATE SET value = EXCLUDED.value
	`, rr.RunID, rr.ResultID, rr.Value)
	if err != nil {
		return fmt.Errorf("append run result: %w", err)
	}
	return nil
}

// ListRunResultsByRun returns a run's extracted result values, for the
// Report Trigger's results.csv (spec §4.6/§6).
func (s *Store) ListRunResultsByRun(ctx context.Context, runID string) ([]carrottypes.RunResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, result_id, value, created_at FROM run_results WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run results: %w", err)
	}
	defer rows.Close()

	var out []carrottypes.RunResult
	for rows.Next() {
		var rr carrottypes.RunResult
		if err := rows.Scan(&rr.RunID, &rr.ResultID, &rr.Value, &rr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run result: %w", err)
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// ListRunErrors returns the append-only error log for a run, most recent first.
func (s *Store) ListRunErrors(ctx context.Context, runID string) ([]carrottypes.RunError, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_error_id, run_id, message, created_at FROM run_errors
		WHERE run_id = $1 ORDER BY created_at DESC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run errors: %w", err)
	}
	defer rows.Close()

	var out []carrottypes.RunError
	for rows.Next() {
		var e carrottypes.RunError
		if err := rows.Scan(&e.RunErrorID, &e.RunID, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func terminalStatus(status carrottypes.RunStatus) bool {
	switch status {
	case carrottypes.RunSucceeded, carrottypes.RunTestFailed, carrottypes.RunEvalFailed,
		carrottypes.RunBuildFailed, carrottypes.RunCarrotFailed,
		carrottypes.RunTestAborted, carrottypes.RunEvalAborted:
		return true
	default:
		return false
	}
}

func statusStrings(statuses []carrottypes.RunStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func marshalOptional(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*carrottypes.Run, error) {
	var r carrottypes.Run
	var status string
	if err := row.Scan(&r.RunID, &r.TestID, &r.Name, &status, &r.Version, &r.TestInput, &r.TestOptions,
		&r.EvalInput, &r.EvalOptions, &r.TestWDL, &r.TestWDLDependencies, &r.EvalWDL, &r.EvalWDLDependencies,
		&r.TestCromwellJobID, &r.EvalCromwellJobID, &r.CreatedAt, &r.CreatedBy, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Status = carrottypes.RunStatus(status)
	return &r, nil
}

func scanRuns(rows pgx.Rows) ([]carrottypes.Run, error) {
	var out []carrottypes.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
