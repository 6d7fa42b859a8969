package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// CreateSoftware registers a new software entry (spec §3).
func (s *Store) CreateSoftware(ctx context.Context, sw carrottypes.Software) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO software (software_id, name, description, repository_url, machine_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sw.SoftwareID, sw.Name, sw.Description, sw.RepoURL, string(sw.MachineType), sw.CreatedAt)
	if err != nil {
		return fmt.Errorf("create software: %w", err)
	}
	return nil
}

// GetSoftware fetches software by id.
func (s *Store) GetSoftware(ctx context.Context, id string) (*carrottypes.Software, error) {
	sw, err := scanSoftware(s.pool.QueryRow(ctx, `
		SELECT software_id, name, description, repository_url, machine_type, created_at
		FROM software WHERE software_id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get software: %w", err)
	}
	return sw, nil
}

// GetSoftwareByName resolves the software_name component of an
// image_build: reference (spec §4.3 step 1).
func (s *Store) GetSoftwareByName(ctx context.Context, name string) (*carrottypes.Software, error) {
	sw, err := scanSoftware(s.pool.QueryRow(ctx, `
		SELECT software_id, name, description, repository_url, machine_type, created_at
		FROM software WHERE name = $1
	`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get software by name: %w", err)
	}
	return sw, nil
}

func scanSoftware(row pgx.Row) (*carrottypes.Software, error) {
	var sw carrottypes.Software
	var machineType string
	if err := row.Scan(&sw.SoftwareID, &sw.Name, &sw.Description, &sw.RepoURL, &machineType, &sw.CreatedAt); err != nil {
		return nil, err
	}
	sw.MachineType = carrottypes.MachineType(machineType)
	return &sw, nil
}

// GetOrCreateSoftwareVersion implements the transaction-wrapped
// get-or-create pattern from original_source/src/manager/software_builder.rs
// (get_or_create_software_version): look up a (software_id, commit_hash)
// row, inserting one if absent, all inside a single transaction so
// concurrent resolvers of the same commit never race to create duplicates.
func (s *Store) GetOrCreateSoftwareVersion(ctx context.Context, softwareID, commitHash string) (*carrottypes.SoftwareVersion, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var v carrottypes.SoftwareVersion
	err = tx.QueryRow(ctx, `
		SELECT software_version_id, software_id, commit_hash, commit_date, created_at
		FROM software_versions WHERE software_id = $1 AND commit_hash = $2
	`, softwareID, commitHash).Scan(&v.SoftwareVersionID, &v.SoftwareID, &v.Commit, &v.CommitDate, &v.CreatedAt)
	if err == nil {
		return &v, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup software version: %w", err)
	}

	v = carrottypes.SoftwareVersion{
		SoftwareVersionID: ulid.Make().String(),
		SoftwareID:        softwareID,
		Commit:            commitHash,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO software_versions (software_version_id, software_id, commit_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (software_id, commit_hash) DO UPDATE SET commit_hash = EXCLUDED.commit_hash
		RETURNING software_version_id, created_at
	`, v.SoftwareVersionID, v.SoftwareID, v.Commit).Scan(&v.SoftwareVersionID, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert software version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit software version: %w", err)
	}
	return &v, nil
}

// UpsertSoftwareVersionTag records a tag->commit mapping so future
// resolutions of the same tag skip git-mirror lookup (spec §4.3 step 2).
func (s *Store) UpsertSoftwareVersionTag(ctx context.Context, softwareVersionID, tag string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO software_version_tags (software_version_id, software_id, tag)
		SELECT $1, software_id, $2 FROM software_versions WHERE software_version_id = $1
		ON CONFLICT (software_id, tag) DO UPDATE SET software_version_id = EXCLUDED.software_version_id
	`, softwareVersionID, tag)
	if err != nil {
		return fmt.Errorf("upsert software version tag: %w", err)
	}
	return nil
}

// ResolveTag looks up a previously-resolved tag without hitting the git mirror.
func (s *Store) ResolveTag(ctx context.Context, softwareID, tag string) (*carrottypes.SoftwareVersion, error) {
	var v carrottypes.SoftwareVersion
	err := s.pool.QueryRow(ctx, `
		SELECT sv.software_version_id, sv.software_id, sv.commit_hash, sv.commit_date, sv.created_at
		FROM software_version_tags t
		JOIN software_versions sv ON sv.software_version_id = t.software_version_id
		WHERE t.software_id = $1 AND t.tag = $2
	`, softwareID, tag).Scan(&v.SoftwareVersionID, &v.SoftwareID, &v.Commit, &v.CommitDate, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tag: %w", err)
	}
	return &v, nil
}

// FindOrCreateActiveBuild implements the build-dedup tie-break of spec
// §4.3 invariant 1 via the idx_builds_active_per_version partial unique
// index: the INSERT either lands (created=true) or conflicts, in which
// case we read back the existing active build (created=false). No
// application-level lock is needed — Postgres serializes the conflict.
func (s *Store) FindOrCreateActiveBuild(ctx context.Context, softwareVersionID string) (*carrottypes.SoftwareBuild, bool, error) {
	b := carrottypes.SoftwareBuild{
		SoftwareBuildID:   ulid.Make().String(),
		SoftwareVersionID: softwareVersionID,
		Status:            carrottypes.BuildCreated,
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO software_builds (build_id, software_version_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (software_version_id) WHERE status NOT IN ('succeeded','failed','aborted','expired')
		DO NOTHING
	`, b.SoftwareBuildID, b.SoftwareVersionID, string(b.Status))
	if err != nil {
		return nil, false, fmt.Errorf("insert software build: %w", err)
	}
	if tag.RowsAffected() == 1 {
		existing, err := s.GetBuild(ctx, b.SoftwareBuildID)
		if err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}

	var existing carrottypes.SoftwareBuild
	var status string
	err = s.pool.QueryRow(ctx, `
		SELECT build_id, software_version_id, status, image_url, build_job_id, created_at, finished_at
		FROM software_builds
		WHERE software_version_id = $1 AND status NOT IN ('succeeded','failed','aborted','expired')
	`, softwareVersionID).Scan(&existing.SoftwareBuildID, &existing.SoftwareVersionID, &status,
		&existing.ImageURL, &existing.BuildJobID, &existing.CreatedAt, &existing.FinishedAt)
	if err != nil {
		return nil, false, fmt.Errorf("read existing active build: %w", err)
	}
	existing.Status = carrottypes.BuildStatus(status)
	return &existing, false, nil
}

// UpdateBuildStatus transitions a build's status and, on completion,
// records the resulting image URL or engine job id.
func (s *Store) UpdateBuildStatus(ctx context.Context, buildID string, status carrottypes.BuildStatus, imageURL, buildJobID *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE software_builds SET
			status = $2,
			image_url = COALESCE($3, image_url),
			build_job_id = COALESCE($4, build_job_id),
			finished_at = CASE WHEN $2 IN ('succeeded','failed','aborted','expired') THEN NOW() ELSE finished_at END
		WHERE build_id = $1
	`, buildID, string(status), imageURL, buildJobID)
	if err != nil {
		return fmt.Errorf("update build status: %w", err)
	}
	return nil
}

// ListBuildsByStatus fetches software_build rows in any of the given
// states, used by the Status Manager's build sweep (spec §4.2) to select
// builds needing a poll, the same way ListRunsByStatus feeds the run sweep.
func (s *Store) ListBuildsByStatus(ctx context.Context, statuses []carrottypes.BuildStatus, limit int) ([]*carrottypes.SoftwareBuild, error) {
	if limit <= 0 {
		limit = 100
	}
	statusStrings := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrings[i] = string(st)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT build_id, software_version_id, status, image_url, build_job_id, created_at, finished_at
		FROM software_builds WHERE status = ANY($1) ORDER BY created_at ASC LIMIT $2
	`, statusStrings, limit)
	if err != nil {
		return nil, fmt.Errorf("list builds by status: %w", err)
	}
	defer rows.Close()

	var out []*carrottypes.SoftwareBuild
	for rows.Next() {
		var b carrottypes.SoftwareBuild
		var status string
		if err := rows.Scan(&b.SoftwareBuildID, &b.SoftwareVersionID, &status, &b.ImageURL, &b.BuildJobID, &b.CreatedAt, &b.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan software build: %w", err)
		}
		b.Status = carrottypes.BuildStatus(status)
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list builds by status: %w", err)
	}
	return out, nil
}

// GetBuild fetches a single build by id.
func (s *Store) GetBuild(ctx context.Context, id string) (*carrottypes.SoftwareBuild, error) {
	var b carrottypes.SoftwareBuild
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT build_id, software_version_id, status, image_url, build_job_id, created_at, finished_at
		FROM software_builds WHERE build_id = $1
	`, id).Scan(&b.SoftwareBuildID, &b.SoftwareVersionID, &status, &b.ImageURL, &b.BuildJobID, &b.CreatedAt, &b.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get build: %w", err)
	}
	b.Status = carrottypes.BuildStatus(status)
	return &b, nil
}
