package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// CreateSubscription registers an email watch on a pipeline/template/test
// entity (spec §4.7).
func (s *Store) CreateSubscription(ctx context.Context, sub carrottypes.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (subscription_id, entity, entity_id, email, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (entity, entity_id, email) DO NOTHING
	`, sub.SubscriptionID, string(sub.EntityType), sub.EntityID, sub.Email, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// ListSubscriptions lists email subscribers for a given entity, consulted
// by the notification dispatcher (spec §4.7).
func (s *Store) ListSubscriptions(ctx context.Context, entity carrottypes.SubscriptionEntity, entityID string) ([]carrottypes.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT subscription_id, entity, entity_id, email, created_at
		FROM subscriptions WHERE entity = $1 AND entity_id = $2
	`, string(entity), entityID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []carrottypes.Subscription
	for rows.Next() {
		var sub carrottypes.Subscription
		var entityType string
		if err := rows.Scan(&sub.SubscriptionID, &entityType, &sub.EntityID, &sub.Email, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.EntityType = carrottypes.SubscriptionEntity(entityType)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// DeleteSubscription removes a subscription by id.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE subscription_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// CreateReportMap registers a materialized report job against a run or
// run_group (spec §4.6).
func (s *Store) CreateReportMap(ctx context.Context, rm carrottypes.ReportMap) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO report_maps (report_map_id, reportable, reportable_id, report_id, status, cromwell_job_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rm.ReportMapID, string(rm.EntityType), rm.EntityID, rm.ReportID, string(rm.Status), rm.CromwellJobID, rm.CreatedAt)
	if err != nil {
		return fmt.Errorf("create report map: %w", err)
	}
	return nil
}

// GetReportMapByEntity looks up a report_map by the entity/report pair it
// was created for, grounded on
// report_builder.rs's verify_no_existing_report_map. Returns (nil, nil) when
// absent, matching GetWDLHash's not-found convention.
func (s *Store) GetReportMapByEntity(ctx context.Context, entityType carrottypes.Reportable, entityID, reportID string) (*carrottypes.ReportMap, error) {
	var rm carrottypes.ReportMap
	var entity, status string
	var jobID *string
	var results []byte
	var finishedAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT report_map_id, reportable, reportable_id, report_id, status, cromwell_job_id, results, created_at, finished_at
		FROM report_maps WHERE reportable = $1 AND reportable_id = $2 AND report_id = $3
	`, string(entityType), entityID, reportID).Scan(
		&rm.ReportMapID, &entity, &rm.EntityID, &rm.ReportID, &status, &jobID, &results, &rm.CreatedAt, &finishedAt,
	)
	if err != nil {
		return nil, nil //nolint:nilerr // absence is not an error condition for callers
	}
	rm.EntityType = carrottypes.Reportable(entity)
	rm.Status = carrottypes.ReportMapStatus(status)
	rm.CromwellJobID = jobID
	rm.FinishedAt = finishedAt
	if results != nil {
		rm.Results = json.RawMessage(results)
	}
	return &rm, nil
}

// UpdateReportMapStatus transitions a report map's materialization status
// without touching its results or completion time, for the non-terminal
// hops (created -> submitted -> running).
func (s *Store) UpdateReportMapStatus(ctx context.Context, id string, status carrottypes.ReportMapStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE report_maps SET status = $2 WHERE report_map_id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update report map status: %w", err)
	}
	return nil
}

// SetReportMapCromwellJobID records the Cromwell job id once the
// report-generation workflow has been submitted, so the report map can be
// polled alongside ordinary runs (spec §4.6: "report jobs are themselves
// runs-on-the-engine polled by §4.2").
func (s *Store) SetReportMapCromwellJobID(ctx context.Context, id, jobID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE report_maps SET cromwell_job_id = $2 WHERE report_map_id = $1`, id, jobID)
	if err != nil {
		return fmt.Errorf("set report map cromwell job id: %w", err)
	}
	return nil
}

// FinishReportMap records a terminal status together with the generation
// workflow's outputs and completion time in one commit, mirroring
// TransitionRun's atomic status+detail write for runs.
func (s *Store) FinishReportMap(ctx context.Context, id string, status carrottypes.ReportMapStatus, results json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE report_maps SET status = $2, results = $3, finished_at = NOW() WHERE report_map_id = $1
	`, id, string(status), results)
	if err != nil {
		return fmt.Errorf("finish report map: %w", err)
	}
	return nil
}

// GetWDLHash looks up a previously-stored WDL by its content hash (spec §6),
// so the submitter can skip re-uploading and re-validating identical WDL.
func (s *Store) GetWDLHash(ctx context.Context, hash string) (*carrottypes.WDLHash, error) {
	var w carrottypes.WDLHash
	var womtoolMsg *string
	err := s.pool.QueryRow(ctx, `
		SELECT hash, location, womtool_ok, womtool_msg, created_at FROM wdl_hashes WHERE hash = $1
	`, hash).Scan(&w.Hash, &w.Location, &w.WomtoolOK, &womtoolMsg, &w.CreatedAt)
	if err != nil {
		return nil, nil //nolint:nilerr // absence is not an error condition for callers
	}
	if womtoolMsg != nil {
		w.WomtoolMsg = *womtoolMsg
	}
	return &w, nil
}

// PutWDLHash stores a WDL's content hash, resolved storage location, and
// cached womtool validation result.
func (s *Store) PutWDLHash(ctx context.Context, w carrottypes.WDLHash) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wdl_hashes (hash, location, womtool_ok, womtool_msg, created_at) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (hash) DO NOTHING
	`, w.Hash, w.Location, w.WomtoolOK, w.WomtoolMsg, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("put wdl hash: %w", err)
	}
	return nil
}
