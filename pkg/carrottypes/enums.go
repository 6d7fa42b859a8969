// Package carrottypes defines the public domain types shared across CARROT's
// orchestration subsystem: the run lifecycle, error kinds, and the
// configuration-facing enums used by the data model in §3 of the spec.
package carrottypes

// RunStatus is the canonical lifecycle state of a run (spec §4.1).
type RunStatus string

// RunStatus values enumerate every state in the run FSM. There are no
// states outside this set; IsTerminal in internal/lifecycle classifies the
// terminal subset.
const (
	RunCreated                 RunStatus = "created"
	RunBuilding                RunStatus = "building"
	RunTestSubmitted           RunStatus = "test_submitted"
	RunTestQueuedInCromwell    RunStatus = "test_queued_in_cromwell"
	RunTestStarting            RunStatus = "test_starting"
	RunTestRunning             RunStatus = "test_running"
	RunTestWaitingForQueueSpace RunStatus = "test_waiting_for_queue_space"
	RunTestFailed              RunStatus = "test_failed"
	RunTestAborting            RunStatus = "test_aborting"
	RunTestAborted             RunStatus = "test_aborted"
	RunEvalSubmitted           RunStatus = "eval_submitted"
	RunEvalQueuedInCromwell    RunStatus = "eval_queued_in_cromwell"
	RunEvalStarting            RunStatus = "eval_starting"
	RunEvalRunning             RunStatus = "eval_running"
	RunEvalWaitingForQueueSpace RunStatus = "eval_waiting_for_queue_space"
	RunEvalFailed              RunStatus = "eval_failed"
	RunEvalAborting            RunStatus = "eval_aborting"
	RunEvalAborted             RunStatus = "eval_aborted"
	RunBuildFailed             RunStatus = "build_failed"
	RunCarrotFailed            RunStatus = "carrot_failed"
	RunSucceeded               RunStatus = "succeeded"
)

// BuildStatus is the lifecycle state of a software_build row. Builds are
// themselves Cromwell jobs reconciled by the Status Manager sweep, so they
// carry their own, smaller FSM (see internal/lifecycle).
type BuildStatus string

const (
	BuildCreated  BuildStatus = "created"
	BuildSubmitted BuildStatus = "submitted"
	BuildRunning  BuildStatus = "running"
	BuildWaitingForQueueSpace BuildStatus = "waiting_for_queue_space"
	BuildSucceeded BuildStatus = "succeeded"
	BuildFailed   BuildStatus = "failed"
	BuildAborting BuildStatus = "aborting"
	BuildAborted  BuildStatus = "aborted"
	BuildExpired  BuildStatus = "expired"
)

// ResultType classifies the kind of value a named workflow output captures.
type ResultType string

const (
	ResultNumeric ResultType = "numeric"
	ResultText    ResultType = "text"
	ResultFile    ResultType = "file"
)

// ReportTrigger names when a template_report mapping fires a report build.
type ReportTrigger string

const (
	ReportTriggerSingle ReportTrigger = "single"
	ReportTriggerPR     ReportTrigger = "pr"
)

// Reportable names the kind of entity a report_map row was generated for.
type Reportable string

const (
	ReportableRun      Reportable = "run"
	ReportableRunGroup Reportable = "run_group"
)

// ReportMapStatus is the lifecycle of a materialized report job.
type ReportMapStatus string

const (
	ReportMapCreated   ReportMapStatus = "created"
	ReportMapSubmitted ReportMapStatus = "submitted"
	ReportMapRunning   ReportMapStatus = "running"
	ReportMapSucceeded ReportMapStatus = "succeeded"
	ReportMapFailed    ReportMapStatus = "failed"
)

// SubscriptionEntity names the kind of row a subscription watches.
type SubscriptionEntity string

const (
	SubscriptionPipeline SubscriptionEntity = "pipeline"
	SubscriptionTemplate SubscriptionEntity = "template"
	SubscriptionTest     SubscriptionEntity = "test"
)

// MachineType enumerates the software build compute shapes. Per the Open
// Question resolution in DESIGN.md, this is the superset of the two
// divergent migrations found in original_source/.
type MachineType string

const (
	MachineN1HighCPU8   MachineType = "n1-highcpu-8"
	MachineN1HighCPU32  MachineType = "n1-highcpu-32"
	MachineE2HighCPU8   MachineType = "e2-highcpu-8"
	MachineE2HighCPU32  MachineType = "e2-highcpu-32"
	MachineStandard     MachineType = "standard"
)

// CromwellStatus is the raw status string returned by the Cromwell engine.
type CromwellStatus string

const (
	CromwellSubmitted CromwellStatus = "Submitted"
	CromwellRunning    CromwellStatus = "Running"
	CromwellSucceeded  CromwellStatus = "Succeeded"
	CromwellFailed     CromwellStatus = "Failed"
	CromwellAborted    CromwellStatus = "Aborted"
	CromwellAborting   CromwellStatus = "Aborting"
)

// RunGroupProvenance classifies why a run_group exists.
type RunGroupProvenance string

const (
	RunGroupFromGitHub RunGroupProvenance = "github"
	RunGroupFromQuery  RunGroupProvenance = "query"
)

// GitHubTriggerKind names the two pubsub message shapes accepted from the
// GitHub integration (spec §4.5).
type GitHubTriggerKind string

const (
	GitHubTriggerSingle     GitHubTriggerKind = "carrot"
	GitHubTriggerComparison GitHubTriggerKind = "carrot_pr"
)

// EmailMode selects the notification transport (spec §6).
type EmailMode string

const (
	EmailModeNone     EmailMode = "none"
	EmailModeSendmail EmailMode = "sendmail"
	EmailModeSMTP     EmailMode = "smtp"
)
