package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// CreateRunGroup registers a cohort of runs sharing provenance (spec §4.5).
func (s *Store) CreateRunGroup(ctx context.Context, g carrottypes.RunGroup) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_groups (run_group_id, provenance, query, created_at) VALUES ($1,$2,$3,$4)
	`, g.RunGroupID, string(g.Provenance), g.Query, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("create run group: %w", err)
	}
	if g.GitHub != nil {
		if err := s.AttachGitHubProvenance(ctx, g.RunGroupID, *g.GitHub); err != nil {
			return err
		}
	}
	return nil
}

// GetRunGroup fetches a run group plus its GitHub provenance, if any.
func (s *Store) GetRunGroup(ctx context.Context, id string) (*carrottypes.RunGroup, error) {
	var g carrottypes.RunGroup
	var provenance string
	err := s.pool.QueryRow(ctx, `
		SELECT run_group_id, provenance, query, created_at FROM run_groups WHERE run_group_id = $1
	`, id).Scan(&g.RunGroupID, &provenance, &g.Query, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run group: %w", err)
	}
	g.Provenance = carrottypes.RunGroupProvenance(provenance)

	var gh carrottypes.GitHubProvenance
	err = s.pool.QueryRow(ctx, `
		SELECT owner, repo, issue_number, author, COALESCE(base_commit, ''), head_commit,
			test_name, COALESCE(test_docker_key, ''), COALESCE(eval_docker_key, '')
		FROM github_provenance WHERE run_group_id = $1
	`, id).Scan(&gh.Owner, &gh.Repo, &gh.IssueNumber, &gh.Author, &gh.BaseCommit, &gh.HeadCommit,
		&gh.TestName, &gh.TestDockerKey, &gh.EvalDockerKey)
	if err == nil {
		g.GitHub = &gh
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get github provenance: %w", err)
	}

	return &g, nil
}

// AddRunToGroup adds a run to a group's membership.
func (s *Store) AddRunToGroup(ctx context.Context, rg carrottypes.RunInGroup) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_in_groups (run_group_id, run_id) VALUES ($1,$2) ON CONFLICT DO NOTHING
	`, rg.RunGroupID, rg.RunID)
	if err != nil {
		return fmt.Errorf("add run to group: %w", err)
	}
	return nil
}

// ListRunsInGroup lists every run belonging to a group, used by the Report
// Trigger to build PR-comparison reports (spec §4.5/§4.6).
func (s *Store) ListRunsInGroup(ctx context.Context, groupID string) ([]carrottypes.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.run_id, r.test_id, r.name, r.status, r.version, r.test_input, r.test_options,
			r.eval_input, r.eval_options, r.test_wdl, r.test_wdl_dependencies, r.eval_wdl,
			r.eval_wdl_dependencies, r.test_cromwell_job_id, r.eval_cromwell_job_id, r.created_at,
			r.created_by, r.finished_at
		FROM runs r
		JOIN run_in_groups m ON m.run_id = r.run_id
		WHERE m.run_group_id = $1
		ORDER BY r.created_at ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list runs in group: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListRunGroupsForRun finds the group ids a run belongs to, letting the
// Report Trigger tell whether a just-terminal run's group is now fully
// terminal (spec §4.6 pr-trigger). A run ordinarily belongs to at most one
// group, but the membership table doesn't enforce that, so this returns
// every match.
func (s *Store) ListRunGroupsForRun(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT run_group_id FROM run_in_groups WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run groups for run: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AttachGitHubProvenance records the PR metadata for a GitHub-triggered run group.
func (s *Store) AttachGitHubProvenance(ctx context.Context, runGroupID string, g carrottypes.GitHubProvenance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO github_provenance (run_group_id, owner, repo, issue_number, author,
			base_commit, head_commit, test_name, test_docker_key, eval_docker_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (run_group_id) DO NOTHING
	`, runGroupID, g.Owner, g.Repo, g.IssueNumber, g.Author, g.BaseCommit, g.HeadCommit,
		g.TestName, g.TestDockerKey, g.EvalDockerKey)
	if err != nil {
		return fmt.Errorf("attach github provenance: %w", err)
	}
	return nil
}
