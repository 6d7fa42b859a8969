package carrottypes

import (
	"encoding/json"
	"time"
)

// Pipeline is a top-level grouping; Name is unique (spec §3).
type Pipeline struct {
	PipelineID  string    `json:"pipelineId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   string    `json:"createdBy,omitempty"`
}

// Template is a child of a pipeline holding the test/eval WDL locations.
// Immutable once any non-failed run exists against one of its tests
// (invariant 3).
type Template struct {
	TemplateID          string    `json:"templateId"`
	PipelineID          string    `json:"pipelineId"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	TestWDL              string    `json:"testWdl"`
	TestWDLDependencies  string    `json:"testWdlDependencies,omitempty"`
	EvalWDL              string    `json:"evalWdl"`
	EvalWDLDependencies  string    `json:"evalWdlDependencies,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	CreatedBy           string    `json:"createdBy,omitempty"`
}

// Test is a template plus default inputs/options.
type Test struct {
	TestID      string          `json:"testId"`
	TemplateID  string          `json:"templateId"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	TestInput   json.RawMessage `json:"testInput"`
	EvalInput   json.RawMessage `json:"evalInput"`
	TestOptions json.RawMessage `json:"testOptions,omitempty"`
	EvalOptions json.RawMessage `json:"evalOptions,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CreatedBy   string          `json:"createdBy,omitempty"`
}

// Result is a typed output class (spec §3).
type Result struct {
	ResultID    string     `json:"resultId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ResultType  ResultType `json:"resultType"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// TemplateResult maps a (template, output_key) pair to a Result.
type TemplateResult struct {
	TemplateID string    `json:"templateId"`
	ResultID   string    `json:"resultId"`
	OutputKey  string    `json:"outputKey"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Report is a notebook template plus runtime config.
type Report struct {
	ReportID  string          `json:"reportId"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Notebook  json.RawMessage `json:"notebook"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Section is a reusable report fragment.
type Section struct {
	SectionID string          `json:"sectionId"`
	Name      string          `json:"name"`
	Contents  json.RawMessage `json:"contents"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ReportSection orders a Section within a Report.
type ReportSection struct {
	ReportID  string `json:"reportId"`
	SectionID string `json:"sectionId"`
	Position  int    `json:"position"`
}

// TemplateReport maps (template, report, trigger) -> input_map.
type TemplateReport struct {
	TemplateID string          `json:"templateId"`
	ReportID   string          `json:"reportId"`
	Trigger    ReportTrigger   `json:"reportTrigger"`
	InputMap   json.RawMessage `json:"inputMap"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Software is a git repository CARROT can build docker images from.
type Software struct {
	SoftwareID  string      `json:"softwareId"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	RepoURL     string      `json:"repositoryUrl"`
	MachineType MachineType `json:"machineType"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// SoftwareVersion pins a Software at a specific commit.
type SoftwareVersion struct {
	SoftwareVersionID string    `json:"softwareVersionId"`
	SoftwareID        string    `json:"softwareId"`
	Commit            string    `json:"commit"`
	CommitDate        time.Time `json:"commitDate"`
	CreatedAt         time.Time `json:"createdAt"`
}

// SoftwareVersionTag attaches a human-readable tag to a SoftwareVersion.
type SoftwareVersionTag struct {
	SoftwareVersionID string    `json:"softwareVersionId"`
	Tag               string    `json:"tag"`
	CreatedAt         time.Time `json:"createdAt"`
}

// SoftwareBuild is a single build attempt for a SoftwareVersion.
type SoftwareBuild struct {
	SoftwareBuildID   string      `json:"softwareBuildId"`
	SoftwareVersionID string      `json:"softwareVersionId"`
	BuildJobID        *string     `json:"buildJobId,omitempty"`
	Status            BuildStatus `json:"status"`
	ImageURL          *string     `json:"imageUrl,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	FinishedAt        *time.Time  `json:"finishedAt,omitempty"`
}

// Run is the atomic execution unit driven by the FSM (spec §4.1, §3).
type Run struct {
	RunID    string    `json:"runId"`
	TestID   string    `json:"testId"`
	Name     string    `json:"name"`
	Status   RunStatus `json:"status"`
	Version  int       `json:"version"`

	TestInput   json.RawMessage `json:"testInput"`
	TestOptions json.RawMessage `json:"testOptions,omitempty"`
	EvalInput   json.RawMessage `json:"evalInput"`
	EvalOptions json.RawMessage `json:"evalOptions,omitempty"`

	// Verbatim copy of the WDL sources used, frozen at run creation
	// (invariant 5) — later template edits never alter reproducibility.
	TestWDL             string `json:"testWdl"`
	TestWDLDependencies string `json:"testWdlDependencies,omitempty"`
	EvalWDL             string `json:"evalWdl"`
	EvalWDLDependencies string `json:"evalWdlDependencies,omitempty"`

	TestCromwellJobID *string `json:"testCromwellJobId,omitempty"`
	EvalCromwellJobID *string `json:"evalCromwellJobId,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	CreatedBy  string     `json:"createdBy,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// RunSoftwareVersion records a build dependency for a run.
type RunSoftwareVersion struct {
	RunID             string `json:"runId"`
	SoftwareVersionID string `json:"softwareVersionId"`
}

// RunError is an append-only log of non-fatal and terminal error messages.
type RunError struct {
	RunErrorID string    `json:"runErrorId"`
	RunID      string    `json:"runId"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RunResult is a (run, result) -> value row. File values store URIs.
type RunResult struct {
	RunID     string    `json:"runId"`
	ResultID  string    `json:"resultId"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}

// GitHubProvenance captures the PR metadata for a run_group created from a
// GitHub pubsub message (spec §4.5).
type GitHubProvenance struct {
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
	IssueNumber    int    `json:"issueNumber"`
	Author         string `json:"author"`
	BaseCommit     string `json:"baseCommit,omitempty"`
	HeadCommit     string `json:"headCommit"`
	TestName       string `json:"testName"`
	TestDockerKey  string `json:"testDockerKey,omitempty"`
	EvalDockerKey  string `json:"evalDockerKey,omitempty"`
}

// RunGroup is a cohort of runs sharing provenance (spec §3, §4.5).
type RunGroup struct {
	RunGroupID  string              `json:"runGroupId"`
	Provenance  RunGroupProvenance  `json:"provenance"`
	GitHub      *GitHubProvenance   `json:"github,omitempty"`
	Query       json.RawMessage     `json:"query,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// RunInGroup is the many-to-many membership row between runs and groups.
type RunInGroup struct {
	RunGroupID string `json:"runGroupId"`
	RunID      string `json:"runId"`
}

// Subscription is an email watch on a pipeline/template/test entity.
type Subscription struct {
	SubscriptionID string             `json:"subscriptionId"`
	EntityType     SubscriptionEntity `json:"entityType"`
	EntityID       string             `json:"entityId"`
	Email          string             `json:"email"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// ReportMap tracks a materialized report job against a run or run_group.
type ReportMap struct {
	ReportMapID  string          `json:"reportMapId"`
	ReportID     string          `json:"reportId"`
	EntityType   Reportable      `json:"entityType"`
	EntityID     string          `json:"entityId"`
	Status       ReportMapStatus `json:"status"`
	CromwellJobID *string        `json:"cromwellJobId,omitempty"`
	Results      json.RawMessage `json:"results,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}

// WDLHash records the content hash and resolved location for a unique WDL
// source, and the cached womtool validation result (spec §6).
type WDLHash struct {
	Hash       string    `json:"hash"`
	Location   string    `json:"location"`
	WomtoolOK  bool      `json:"womtoolOk"`
	WomtoolMsg string    `json:"womtoolMessage,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// GitHubPubsubMessage is the inbound message schema for the GitHub
// integration (spec §4.5, §6).
type GitHubPubsubMessage struct {
	Kind          GitHubTriggerKind `json:"kind"`
	Owner         string            `json:"owner"`
	Repo          string            `json:"repo"`
	IssueNumber   int               `json:"issue_number"`
	Author        string            `json:"author"`
	BaseCommit    string            `json:"base_commit,omitempty"`
	HeadCommit    string            `json:"head_commit"`
	TestName      string            `json:"test_name"`
	TestDockerKey string            `json:"test_docker_key,omitempty"`
	EvalDockerKey string            `json:"eval_docker_key,omitempty"`
	TestInput     json.RawMessage   `json:"test_input,omitempty"`
	EvalInput     json.RawMessage   `json:"eval_input,omitempty"`
}
