// Package store defines the storage backend interface for CARROT,
// generalized from the teacher's internal/provider.Provider (which scoped
// a Postgres-only archival backend behind a backend-agnostic interface
// anticipating Redis/DynamoDB/etcd/Firestore variants). CARROT has exactly
// one store — Postgres is both the hot path and the archive — so the
// interface collapses the teacher's Redis/Postgres split into a single
// Provider, but keeps its shape: CAS-guarded state writes, an append-only
// event/error log, and distributed locking for coordinator processes.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// Provider is the storage backend interface implemented by
// internal/store/postgres.
type Provider interface {
	// Pipelines, templates, tests, results (spec §3/§6 CRUD surface).
	CreatePipeline(ctx context.Context, p carrottypes.Pipeline) error
	GetPipeline(ctx context.Context, id string) (*carrottypes.Pipeline, error)
	ListPipelines(ctx context.Context) ([]carrottypes.Pipeline, error)

	CreateTemplate(ctx context.Context, t carrottypes.Template) error
	GetTemplate(ctx context.Context, id string) (*carrottypes.Template, error)
	ListTemplatesByPipeline(ctx context.Context, pipelineID string) ([]carrottypes.Template, error)

	CreateTest(ctx context.Context, t carrottypes.Test) error
	GetTest(ctx context.Context, id string) (*carrottypes.Test, error)
	// GetTestByName looks a test up by its name alone, without a template
	// scope. Test names are only unique per-template (spec §3), so this
	// returns the first match; it exists for the GitHub integration (spec
	// §4.5), which names a test by test_name alone, grounded on
	// original_source/src/manager/github_runner.rs's
	// TestData::find_id_by_name lookup.
	GetTestByName(ctx context.Context, name string) (*carrottypes.Test, error)
	ListTestsByTemplate(ctx context.Context, templateID string) ([]carrottypes.Test, error)

	CreateResult(ctx context.Context, r carrottypes.Result) error
	GetResult(ctx context.Context, id string) (*carrottypes.Result, error)
	MapTemplateResult(ctx context.Context, tr carrottypes.TemplateResult) error
	ListResultsByTemplate(ctx context.Context, templateID string) ([]carrottypes.TemplateResult, error)

	CreateReport(ctx context.Context, r carrottypes.Report) error
	GetReport(ctx context.Context, id string) (*carrottypes.Report, error)
	CreateSection(ctx context.Context, s carrottypes.Section) error
	MapReportSection(ctx context.Context, rs carrottypes.ReportSection) error
	// ListReportSections returns a report's Sections in display order, for
	// notebook materialization (spec §4.6).
	ListReportSections(ctx context.Context, reportID string) ([]carrottypes.Section, error)
	MapTemplateReport(ctx context.Context, tr carrottypes.TemplateReport) error
	// ListTemplateReportsByTrigger finds the report mappings that fire when
	// a templateID's run (trigger=single) or run_group (trigger=pr) reaches
	// a success-containing terminal state (spec §4.6).
	ListTemplateReportsByTrigger(ctx context.Context, templateID string, trigger carrottypes.ReportTrigger) ([]carrottypes.TemplateReport, error)

	// Software, software versions, builds — spec §4.3.
	CreateSoftware(ctx context.Context, s carrottypes.Software) error
	GetSoftware(ctx context.Context, id string) (*carrottypes.Software, error)
	GetSoftwareByName(ctx context.Context, name string) (*carrottypes.Software, error)
	GetOrCreateSoftwareVersion(ctx context.Context, softwareID, commitHash string) (*carrottypes.SoftwareVersion, error)
	UpsertSoftwareVersionTag(ctx context.Context, softwareVersionID, tag string) error
	ResolveTag(ctx context.Context, softwareID, tag string) (*carrottypes.SoftwareVersion, error)
	// FindOrCreateActiveBuild implements the dedup tie-break of spec §4.3
	// invariant 1 (at most one non-terminal build per software version) via
	// a partial-unique-index INSERT ... ON CONFLICT.
	FindOrCreateActiveBuild(ctx context.Context, softwareVersionID string) (build *carrottypes.SoftwareBuild, created bool, err error)
	UpdateBuildStatus(ctx context.Context, buildID string, status carrottypes.BuildStatus, imageURL, buildJobID *string) error
	GetBuild(ctx context.Context, id string) (*carrottypes.SoftwareBuild, error)
	// ListBuildsByStatus returns non-terminal software_build rows for the
	// Status Manager's build sweep (spec §4.2), the same way
	// ListRunsByStatus feeds the run sweep.
	ListBuildsByStatus(ctx context.Context, statuses []carrottypes.BuildStatus, limit int) ([]*carrottypes.SoftwareBuild, error)

	// Runs — spec §4.1/§4.2/§4.4, CAS-guarded FSM transitions.
	CreateRun(ctx context.Context, r carrottypes.Run) error
	GetRun(ctx context.Context, id string) (*carrottypes.Run, error)
	ListRunsByStatus(ctx context.Context, statuses []carrottypes.RunStatus, limit int) ([]carrottypes.Run, error)
	ListStaleRuns(ctx context.Context, olderThan time.Time, statuses []carrottypes.RunStatus) ([]carrottypes.Run, error)
	// TransitionRun applies a CAS-guarded FSM move and, in the same
	// transaction, appends a run_errors row when errMsg is non-empty —
	// the Open Question 1 decision that status+error commit atomically.
	TransitionRun(ctx context.Context, runID string, expectedVersion int, newStatus carrottypes.RunStatus, errMsg string) (bool, error)
	SetRunCromwellJobID(ctx context.Context, runID string, testJobID, evalJobID *string) error
	AttachRunSoftwareVersion(ctx context.Context, rv carrottypes.RunSoftwareVersion) error
	AppendRunResult(ctx context.Context, rr carrottypes.RunResult) error
	// ListRunResultsByRun returns a run's extracted result values, for the
	// Report Trigger's results.csv (spec §4.6).
	ListRunResultsByRun(ctx context.Context, runID string) ([]carrottypes.RunResult, error)
	ListRunErrors(ctx context.Context, runID string) ([]carrottypes.RunError, error)

	// Run groups — spec §4.5 GitHub PR provenance.
	CreateRunGroup(ctx context.Context, g carrottypes.RunGroup) error
	GetRunGroup(ctx context.Context, id string) (*carrottypes.RunGroup, error)
	AddRunToGroup(ctx context.Context, rg carrottypes.RunInGroup) error
	ListRunsInGroup(ctx context.Context, groupID string) ([]carrottypes.Run, error)
	// ListRunGroupsForRun finds the group ids a run belongs to, so the
	// Report Trigger can check whether a just-terminal run's group is now
	// fully terminal (spec §4.6).
	ListRunGroupsForRun(ctx context.Context, runID string) ([]string, error)
	AttachGitHubProvenance(ctx context.Context, runGroupID string, g carrottypes.GitHubProvenance) error

	// Subscriptions and report maps — spec §4.6/§4.7.
	CreateSubscription(ctx context.Context, s carrottypes.Subscription) error
	ListSubscriptions(ctx context.Context, entity carrottypes.SubscriptionEntity, entityID string) ([]carrottypes.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	CreateReportMap(ctx context.Context, rm carrottypes.ReportMap) error
	// GetReportMapByEntity looks up an existing report_map for an
	// entity/report pair, so the report trigger can refuse to materialize
	// the same report twice for the same run or run_group (spec §4.6).
	GetReportMapByEntity(ctx context.Context, entityType carrottypes.Reportable, entityID, reportID string) (*carrottypes.ReportMap, error)
	UpdateReportMapStatus(ctx context.Context, id string, status carrottypes.ReportMapStatus) error
	// SetReportMapCromwellJobID records the report-generation workflow's
	// Cromwell job id once submitted.
	SetReportMapCromwellJobID(ctx context.Context, id, jobID string) error
	// FinishReportMap commits a terminal status, the generation workflow's
	// outputs, and its completion time in one write (spec §4.6).
	FinishReportMap(ctx context.Context, id string, status carrottypes.ReportMapStatus, results json.RawMessage) error

	// WDL content-hash store metadata — spec §4.4.
	GetWDLHash(ctx context.Context, hash string) (*carrottypes.WDLHash, error)
	PutWDLHash(ctx context.Context, w carrottypes.WDLHash) error

	// Advisory locking for single-flight coordinators (git tag
	// resolution; build dedup relies on a unique index instead),
	// generalized from the teacher's
	// Provider.AcquireLock/ReleaseLock.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error

	// Archival — spec §4.9 (SUPPLEMENTED).
	ArchiveFinishedRuns(ctx context.Context, olderThan time.Time, limit int) (archived int, err error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}
