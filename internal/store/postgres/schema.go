package postgres

// schemaDDL covers every entity named in spec §3, generalized from the
// teacher's internal/provider/postgres/schema.go (which archived a Redis
// hot-store's runs/run_logs/reruns/events/trait_evaluations into Postgres).
// CARROT has no separate hot store, so these tables ARE the hot path; the
// archiver (internal/archiver) rolls finished rows into the *_archive
// tables below rather than across stores.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS pipelines (
    pipeline_id TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    description TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS templates (
    template_id              TEXT PRIMARY KEY,
    pipeline_id               TEXT NOT NULL REFERENCES pipelines(pipeline_id),
    name                      TEXT NOT NULL,
    description               TEXT,
    test_wdl                  TEXT NOT NULL,
    test_wdl_dependencies     TEXT,
    eval_wdl                  TEXT NOT NULL,
    eval_wdl_dependencies     TEXT,
    created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (pipeline_id, name)
);

CREATE TABLE IF NOT EXISTS tests (
    test_id      TEXT PRIMARY KEY,
    template_id  TEXT NOT NULL REFERENCES templates(template_id),
    name         TEXT NOT NULL,
    description  TEXT,
    test_input   JSONB NOT NULL DEFAULT '{}',
    eval_input   JSONB NOT NULL DEFAULT '{}',
    test_options JSONB,
    eval_options JSONB,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (template_id, name)
);

CREATE TABLE IF NOT EXISTS results (
    result_id   TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    description TEXT,
    result_type TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS template_results (
    template_id TEXT NOT NULL REFERENCES templates(template_id),
    result_id   TEXT NOT NULL REFERENCES results(result_id),
    result_key  TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (template_id, result_id)
);

CREATE TABLE IF NOT EXISTS reports (
    report_id   TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    description TEXT,
    notebook    JSONB,
    config      JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sections (
    section_id  TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT,
    contents    JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS report_sections (
    report_id  TEXT NOT NULL REFERENCES reports(report_id),
    section_id TEXT NOT NULL REFERENCES sections(section_id),
    position   INTEGER NOT NULL,
    PRIMARY KEY (report_id, section_id)
);

CREATE TABLE IF NOT EXISTS template_reports (
    template_id    TEXT NOT NULL REFERENCES templates(template_id),
    report_id      TEXT NOT NULL REFERENCES reports(report_id),
    report_trigger TEXT NOT NULL,
    input_map      JSONB NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (template_id, report_id, report_trigger)
);

CREATE TABLE IF NOT EXISTS software (
    software_id     TEXT PRIMARY KEY,
    name            TEXT NOT NULL UNIQUE,
    description     TEXT,
    repository_url  TEXT NOT NULL,
    machine_type    TEXT NOT NULL DEFAULT 'standard',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS software_versions (
    software_version_id TEXT PRIMARY KEY,
    software_id          TEXT NOT NULL REFERENCES software(software_id),
    commit_hash          TEXT NOT NULL,
    commit_date          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (software_id, commit_hash)
);

CREATE TABLE IF NOT EXISTS software_version_tags (
    software_version_id TEXT NOT NULL REFERENCES software_versions(software_version_id),
    software_id          TEXT NOT NULL REFERENCES software(software_id),
    tag                  TEXT NOT NULL,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (software_version_id, tag),
    UNIQUE (software_id, tag)
);

CREATE TABLE IF NOT EXISTS software_builds (
    build_id             TEXT PRIMARY KEY,
    software_version_id  TEXT NOT NULL REFERENCES software_versions(software_version_id),
    status               TEXT NOT NULL,
    image_url            TEXT,
    build_job_id         TEXT,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    finished_at          TIMESTAMPTZ
);
-- Dedup invariant (spec §4.3 invariant 1): at most one non-terminal build
-- per software version. Enforced by a partial unique index rather than
-- application-level locking, so FindOrCreateActiveBuild can rely on
-- INSERT ... ON CONFLICT DO NOTHING for the race-free tie-break.
CREATE UNIQUE INDEX IF NOT EXISTS idx_builds_active_per_version
    ON software_builds (software_version_id)
    WHERE status NOT IN ('succeeded', 'failed', 'aborted', 'expired');

CREATE TABLE IF NOT EXISTS runs (
    run_id                   TEXT PRIMARY KEY,
    test_id                  TEXT NOT NULL REFERENCES tests(test_id),
    name                     TEXT NOT NULL,
    status                   TEXT NOT NULL,
    version                  INTEGER NOT NULL DEFAULT 0,
    test_input               JSONB NOT NULL DEFAULT '{}',
    test_options              JSONB,
    eval_input               JSONB NOT NULL DEFAULT '{}',
    eval_options              JSONB,
    test_wdl                 TEXT NOT NULL,
    test_wdl_dependencies    TEXT,
    eval_wdl                 TEXT NOT NULL,
    eval_wdl_dependencies    TEXT,
    test_cromwell_job_id     TEXT,
    eval_cromwell_job_id     TEXT,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_by               TEXT,
    finished_at              TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status);
CREATE INDEX IF NOT EXISTS idx_runs_test ON runs (test_id);

CREATE TABLE IF NOT EXISTS run_errors (
    run_error_id TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL REFERENCES runs(run_id),
    message      TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_run_errors_run ON run_errors (run_id);

CREATE TABLE IF NOT EXISTS run_software_versions (
    run_id               TEXT NOT NULL REFERENCES runs(run_id),
    software_version_id  TEXT NOT NULL REFERENCES software_versions(software_version_id),
    PRIMARY KEY (run_id, software_version_id)
);

CREATE TABLE IF NOT EXISTS run_results (
    run_id     TEXT NOT NULL REFERENCES runs(run_id),
    result_id  TEXT NOT NULL REFERENCES results(result_id),
    value      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (run_id, result_id)
);

CREATE TABLE IF NOT EXISTS run_groups (
    run_group_id TEXT PRIMARY KEY,
    provenance   TEXT NOT NULL,
    query        JSONB,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS run_in_groups (
    run_group_id TEXT NOT NULL REFERENCES run_groups(run_group_id),
    run_id       TEXT NOT NULL REFERENCES runs(run_id),
    PRIMARY KEY (run_group_id, run_id)
);

CREATE TABLE IF NOT EXISTS github_provenance (
    run_group_id     TEXT PRIMARY KEY REFERENCES run_groups(run_group_id),
    owner            TEXT NOT NULL,
    repo             TEXT NOT NULL,
    issue_number     INTEGER NOT NULL,
    author           TEXT NOT NULL,
    base_commit      TEXT,
    head_commit      TEXT NOT NULL,
    test_name        TEXT NOT NULL,
    test_docker_key  TEXT,
    eval_docker_key  TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS subscriptions (
    subscription_id TEXT PRIMARY KEY,
    entity          TEXT NOT NULL,
    entity_id       TEXT NOT NULL,
    email           TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (entity, entity_id, email)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_entity ON subscriptions (entity, entity_id);

CREATE TABLE IF NOT EXISTS report_maps (
    report_map_id   TEXT PRIMARY KEY,
    reportable      TEXT NOT NULL,
    reportable_id   TEXT NOT NULL,
    report_id       TEXT NOT NULL REFERENCES reports(report_id),
    status          TEXT NOT NULL,
    cromwell_job_id TEXT,
    results         JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    finished_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_report_maps_reportable ON report_maps (reportable, reportable_id);

CREATE TABLE IF NOT EXISTS wdl_hashes (
    hash          TEXT PRIMARY KEY,
    location      TEXT NOT NULL,
    womtool_ok    BOOLEAN NOT NULL DEFAULT FALSE,
    womtool_msg   TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS advisory_locks (
    key        TEXT PRIMARY KEY,
    holder     TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);

-- Archive rollover targets (SPEC_FULL.md §4.9), mirroring the hot tables'
-- shape rather than the teacher's Redis-to-Postgres column remap.
CREATE TABLE IF NOT EXISTS runs_archive (
    LIKE runs INCLUDING DEFAULTS
);
ALTER TABLE runs_archive ADD COLUMN IF NOT EXISTS archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW();

CREATE TABLE IF NOT EXISTS run_errors_archive (
    LIKE run_errors INCLUDING DEFAULTS
);
`
