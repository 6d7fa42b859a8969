package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// CreatePipeline inserts a new pipeline (spec §3, unique name).
func (s *Store) CreatePipeline(ctx context.Context, p carrottypes.Pipeline) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipelines (pipeline_id, name, description, created_at) VALUES ($1,$2,$3,$4)
	`, p.PipelineID, p.Name, p.Description, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	return nil
}

// GetPipeline fetches a pipeline by id.
func (s *Store) GetPipeline(ctx context.Context, id string) (*carrottypes.Pipeline, error) {
	var p carrottypes.Pipeline
	err := s.pool.QueryRow(ctx, `
		SELECT pipeline_id, name, description, created_at FROM pipelines WHERE pipeline_id = $1
	`, id).Scan(&p.PipelineID, &p.Name, &p.Description, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	return &p, nil
}

// ListPipelines returns every registered pipeline.
func (s *Store) ListPipelines(ctx context.Context) ([]carrottypes.Pipeline, error) {
	rows, err := s.pool.Query(ctx, `SELECT pipeline_id, name, description, created_at FROM pipelines ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var out []carrottypes.Pipeline
	for rows.Next() {
		var p carrottypes.Pipeline
		if err := rows.Scan(&p.PipelineID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateTemplate inserts a template under a pipeline (immutable once a
// non-failed run exists against one of its tests, invariant 3 — enforced
// at the submitter layer, not here).
func (s *Store) CreateTemplate(ctx context.Context, t carrottypes.Template) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO templates (template_id, pipeline_id, name, description, test_wdl,
			test_wdl_dependencies, eval_wdl, eval_wdl_dependencies, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, t.TemplateID, t.PipelineID, t.Name, t.Description, t.TestWDL,
		t.TestWDLDependencies, t.EvalWDL, t.EvalWDLDependencies, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// GetTemplate fetches a template by id.
func (s *Store) GetTemplate(ctx context.Context, id string) (*carrottypes.Template, error) {
	var t carrottypes.Template
	err := s.pool.QueryRow(ctx, `
		SELECT template_id, pipeline_id, name, description, test_wdl, test_wdl_dependencies,
			eval_wdl, eval_wdl_dependencies, created_at
		FROM templates WHERE template_id = $1
	`, id).Scan(&t.TemplateID, &t.PipelineID, &t.Name, &t.Description, &t.TestWDL,
		&t.TestWDLDependencies, &t.EvalWDL, &t.EvalWDLDependencies, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

// ListTemplatesByPipeline lists templates under a pipeline.
func (s *Store) ListTemplatesByPipeline(ctx context.Context, pipelineID string) ([]carrottypes.Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT template_id, pipeline_id, name, description, test_wdl, test_wdl_dependencies,
			eval_wdl, eval_wdl_dependencies, created_at
		FROM templates WHERE pipeline_id = $1 ORDER BY name
	`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []carrottypes.Template
	for rows.Next() {
		var t carrottypes.Template
		if err := rows.Scan(&t.TemplateID, &t.PipelineID, &t.Name, &t.Description, &t.TestWDL,
			&t.TestWDLDependencies, &t.EvalWDL, &t.EvalWDLDependencies, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTest inserts a test with its default inputs/options.
func (s *Store) CreateTest(ctx context.Context, t carrottypes.Test) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tests (test_id, template_id, name, description, test_input, eval_input,
			test_options, eval_options, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, t.TestID, t.TemplateID, t.Name, t.Description, t.TestInput, t.EvalInput,
		t.TestOptions, t.EvalOptions, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create test: %w", err)
	}
	return nil
}

// GetTest fetches a test by id.
func (s *Store) GetTest(ctx context.Context, id string) (*carrottypes.Test, error) {
	var t carrottypes.Test
	err := s.pool.QueryRow(ctx, `
		SELECT test_id, template_id, name, description, test_input, eval_input, test_options, eval_options, created_at
		FROM tests WHERE test_id = $1
	`, id).Scan(&t.TestID, &t.TemplateID, &t.Name, &t.Description, &t.TestInput, &t.EvalInput,
		&t.TestOptions, &t.EvalOptions, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	return &t, nil
}

// GetTestByName returns the first test matching name, for callers (the
// GitHub integration) that only have a bare test name to resolve.
func (s *Store) GetTestByName(ctx context.Context, name string) (*carrottypes.Test, error) {
	var t carrottypes.Test
	err := s.pool.QueryRow(ctx, `
		SELECT test_id, template_id, name, description, test_input, eval_input, test_options, eval_options, created_at
		FROM tests WHERE name = $1 ORDER BY created_at LIMIT 1
	`, name).Scan(&t.TestID, &t.TemplateID, &t.Name, &t.Description, &t.TestInput, &t.EvalInput,
		&t.TestOptions, &t.EvalOptions, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get test by name: %w", err)
	}
	return &t, nil
}

// ListTestsByTemplate lists tests under a template.
func (s *Store) ListTestsByTemplate(ctx context.Context, templateID string) ([]carrottypes.Test, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT test_id, template_id, name, description, test_input, eval_input, test_options, eval_options, created_at
		FROM tests WHERE template_id = $1 ORDER BY name
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	var out []carrottypes.Test
	for rows.Next() {
		var t carrottypes.Test
		if err := rows.Scan(&t.TestID, &t.TemplateID, &t.Name, &t.Description, &t.TestInput, &t.EvalInput,
			&t.TestOptions, &t.EvalOptions, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateResult registers a typed output class.
func (s *Store) CreateResult(ctx context.Context, r carrottypes.Result) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO results (result_id, name, description, result_type, created_at) VALUES ($1,$2,$3,$4,$5)
	`, r.ResultID, r.Name, r.Description, string(r.ResultType), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create result: %w", err)
	}
	return nil
}

// GetResult fetches a result class by id.
func (s *Store) GetResult(ctx context.Context, id string) (*carrottypes.Result, error) {
	var r carrottypes.Result
	var resultType string
	err := s.pool.QueryRow(ctx, `
		SELECT result_id, name, description, result_type, created_at FROM results WHERE result_id = $1
	`, id).Scan(&r.ResultID, &r.Name, &r.Description, &resultType, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	r.ResultType = carrottypes.ResultType(resultType)
	return &r, nil
}

// MapTemplateResult maps a (template, output_key) pair to a Result.
func (s *Store) MapTemplateResult(ctx context.Context, tr carrottypes.TemplateResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO template_results (template_id, result_id, result_key, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (template_id, result_id) DO UPDATE SET result_key = EXCLUDED.result_key
	`, tr.TemplateID, tr.ResultID, tr.OutputKey, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("map template result: %w", err)
	}
	return nil
}

// ListResultsByTemplate lists the result mappings for a template, used by
// the Run Submitter to extract outputs on eval success (spec §4.4).
func (s *Store) ListResultsByTemplate(ctx context.Context, templateID string) ([]carrottypes.TemplateResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT template_id, result_id, result_key, created_at FROM template_results WHERE template_id = $1
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list template results: %w", err)
	}
	defer rows.Close()

	var out []carrottypes.TemplateResult
	for rows.Next() {
		var tr carrottypes.TemplateResult
		if err := rows.Scan(&tr.TemplateID, &tr.ResultID, &tr.OutputKey, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template result: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// CreateReport registers a notebook template plus runtime config.
func (s *Store) CreateReport(ctx context.Context, r carrottypes.Report) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reports (report_id, name, description, notebook, config, created_at) VALUES ($1,$2,$3,$4,$5,$6)
	`, r.ReportID, r.Name, r.Description, r.Notebook, r.Config, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// GetReport fetches a report by id.
func (s *Store) GetReport(ctx context.Context, id string) (*carrottypes.Report, error) {
	var r carrottypes.Report
	err := s.pool.QueryRow(ctx, `
		SELECT report_id, name, description, notebook, config, created_at FROM reports WHERE report_id = $1
	`, id).Scan(&r.ReportID, &r.Name, &r.Description, &r.Notebook, &r.Config, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &r, nil
}

// CreateSection registers a reusable report fragment.
func (s *Store) CreateSection(ctx context.Context, sec carrottypes.Section) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sections (section_id, name, contents, created_at) VALUES ($1,$2,$3,$4)
	`, sec.SectionID, sec.Name, sec.Contents, sec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create section: %w", err)
	}
	return nil
}

// MapReportSection orders a Section within a Report.
func (s *Store) MapReportSection(ctx context.Context, rs carrottypes.ReportSection) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO report_sections (report_id, section_id, position) VALUES ($1,$2,$3)
		ON CONFLICT (report_id, section_id) DO UPDATE SET position = EXCLUDED.position
	`, rs.ReportID, rs.SectionID, rs.Position)
	if err != nil {
		return fmt.Errorf("map report section: %w", err)
	}
	return nil
}

// MapTemplateReport wires a (template, report, trigger) -> input_map row,
// driving what the Report Trigger materializes on run/run_group completion
// (spec §4.6).
func (s *Store) MapTemplateReport(ctx context.Context, tr carrottypes.TemplateReport) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO template_reports (template_id, report_id, report_trigger, input_map, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (template_id, report_id, report_trigger) DO UPDATE SET input_map = EXCLUDED.input_map
	`, tr.TemplateID, tr.ReportID, tr.Trigger, tr.InputMap, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("map template report: %w", err)
	}
	return nil
}

// ListTemplateReportsByTrigger returns the report mappings the Report
// Trigger materializes when a run (trigger='single') or run_group
// (trigger='pr') belonging to templateID reaches a success-containing
// terminal state (spec §4.6).
func (s *Store) ListTemplateReportsByTrigger(ctx context.Context, templateID string, trigger carrottypes.ReportTrigger) ([]carrottypes.TemplateReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT template_id, report_id, report_trigger, input_map, created_at
		FROM template_reports WHERE template_id = $1 AND report_trigger = $2
	`, templateID, trigger)
	if err != nil {
		return nil, fmt.Errorf("list template reports: %w", err)
	}
	defer rows.Close()

	var out []carrottypes.TemplateReport
	for rows.Next() {
		var tr carrottypes.TemplateReport
		if err := rows.Scan(&tr.TemplateID, &tr.ReportID, &tr.Trigger, &tr.InputMap, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template report: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ListReportSections returns a report's Sections in display order, for
// notebook materialization (spec §4.6).
func (s *Store) ListReportSections(ctx context.Context, reportID string) ([]carrottypes.Section, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sec.section_id, sec.name, sec.contents, sec.created_at
		FROM report_sections rs
		JOIN sections sec ON sec.section_id = rs.section_id
		WHERE rs.report_id = $1
		ORDER BY rs.position ASC
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list report sections: %w", err)
	}
	defer rows.Close()

	var out []carrottypes.Section
	for rows.Next() {
		var sec carrottypes.Section
		if err := rows.Scan(&sec.SectionID, &sec.Name, &sec.Contents, &sec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}
