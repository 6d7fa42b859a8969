// Package statusmanager implements the Status Manager sweep (spec §4.2):
// a periodic scan of non-terminal runs that polls the Cromwell engine and
// advances the run FSM. Structurally grounded on the teacher's
// internal/watcher.Watcher (Start/Stop/ticker/immediate-first-pass), with
// the pipeline-fan-out replaced by a bounded-concurrency run sweep via
// golang.org/x/sync/errgroup — the teacher polled pipelines serially, but
// spec §4.2's SweepConcurrency setting calls for a worker pool.
package statusmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carrotsystems/carrot/internal/cromwell"
	"github.com/carrotsystems/carrot/internal/lifecycle"
	"github.com/carrotsystems/carrot/internal/metrics"
	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// pollable lists the non-terminal statuses the sweep considers each tick.
var pollable = []carrottypes.RunStatus{
	carrottypes.RunTestSubmitted, carrottypes.RunTestQueuedInCromwell,
	carrottypes.RunTestStarting, carrottypes.RunTestRunning, carrottypes.RunTestAborting,
	carrottypes.RunEvalSubmitted, carrottypes.RunEvalQueuedInCromwell,
	carrottypes.RunEvalStarting, carrottypes.RunEvalRunning, carrottypes.RunEvalAborting,
}

// pollableBuilds lists the non-terminal software_build states the sweep
// polls each tick (spec §4.2's "non-terminal run rows and non-terminal
// software_build rows" contract).
var pollableBuilds = []carrottypes.BuildStatus{
	carrottypes.BuildSubmitted, carrottypes.BuildRunning,
	carrottypes.BuildWaitingForQueueSpace, carrottypes.BuildAborting,
}

// pendingSubmission lists the run states that have never reached Cromwell
// yet — created (SubmitTest not yet attempted or blocked on a software
// build) and building (blocked, parked there by
// internal/submitter.Submitter.waitOnBuild). Both are retried here instead
// of by the original synchronous caller (spec §4.1/§4.3).
var pendingSubmission = []carrottypes.RunStatus{
	carrottypes.RunCreated, carrottypes.RunBuilding,
}

// Manager periodically sweeps non-terminal runs and advances their FSM
// state by polling the external engine.
type Manager struct {
	store     store.Provider
	engine    *cromwell.Client
	onAdvance func(ctx context.Context, run carrottypes.Run, newStatus carrottypes.RunStatus)
	// onRetrySubmit re-attempts a run's test-phase submission (the
	// submitter's SubmitTest) for every run parked at created/building.
	onRetrySubmit func(ctx context.Context, run carrottypes.Run) error
	logger        *slog.Logger
	config        carrottypes.StatusManagerConfig

	failures sync.Map // run_id -> consecutive failure count

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Manager. onAdvance, if non-nil, is invoked after a
// successful FSM transition so callers (the submitter, report trigger) can
// react — e.g. submit the eval phase once the test phase succeeds.
// onRetrySubmit, if non-nil, is invoked for every run still parked at
// created or building so a software build completing unblocks the run
// without anything else having to notice (spec §4.2/§4.3).
func New(st store.Provider, engine *cromwell.Client, onAdvance func(context.Context, carrottypes.Run, carrottypes.RunStatus), onRetrySubmit func(context.Context, carrottypes.Run) error, logger *slog.Logger, cfg carrottypes.StatusManagerConfig) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 8
	}
	if cfg.AllowedConsecutiveFailures <= 0 {
		cfg.AllowedConsecutiveFailures = 5
	}
	return &Manager{store: st, engine: engine, onAdvance: onAdvance, onRetrySubmit: onRetrySubmit, logger: logger, config: cfg}
}

// Start begins the sweep loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	interval := time.Duration(m.config.StatusCheckWaitTimeInSecs) * time.Second
	if interval <= 0 {
		interval = 300 * time.Second
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.logger.Info("status manager started", "interval", interval)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.sweep(ctx)

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("status manager stopping")
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

// Stop gracefully shuts down the sweep loop.
func (m *Manager) Stop(ctx context.Context) {
	if m.cancel != nil {
		m.cancel()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("status manager stopped")
	case <-ctx.Done():
		m.logger.Warn("status manager stop timed out")
	}
}

func (m *Manager) sweep(ctx context.Context) {
	m.sweepBuilds(ctx)
	m.sweepPendingSubmissions(ctx)

	runs, err := m.store.ListRunsByStatus(ctx, pollable, 500)
	if err != nil {
		m.logger.Error("failed to list runs for sweep", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.SweepConcurrency)
	for _, run := range runs {
		run := run
		g.Go(func() error {
			m.checkOne(gctx, run)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) checkOne(ctx context.Context, run carrottypes.Run) {
	jobID := activeJobID(run)
	if jobID == nil {
		return
	}

	result, err := m.engine.Status(ctx, *jobID)
	if err != nil {
		metrics.StatusPollErrors.Add(1)
		m.recordFailure(ctx, run, err)
		return
	}
	m.failures.Delete(run.RunID)

	newStatus, changed := nextStatus(run.Status, result.Status)
	if !changed {
		return
	}
	if !lifecycle.CanTransition(run.Status, newStatus) {
		// A fast-completing job can go Submitted -> Succeeded between two
		// polls without this sweep ever observing Running; EvalSubmitted
		// and Succeeded are only reachable from their phase's Running or
		// WaitingForQueueSpace state (internal/lifecycle/fsm.go), so walk
		// the run through that state first rather than dropping the
		// terminal poll result on the floor forever.
		var ok bool
		run, ok = m.fastForwardThroughRunning(ctx, run, newStatus)
		if !ok {
			m.logger.Warn("engine status implies illegal transition, ignoring", "run_id", run.RunID,
				"from", run.Status, "to", newStatus)
			return
		}
	}

	ok, err := m.store.TransitionRun(ctx, run.RunID, run.Version, newStatus, "")
	if err != nil {
		m.logger.Error("failed to persist run transition", "run_id", run.RunID, "error", err)
		return
	}
	if !ok {
		// Lost the CAS race to another sweep/coordinator; the other writer's
		// view wins and this tick's poll result is discarded.
		return
	}
	if lifecycle.IsTerminal(newStatus) {
		if newStatus == carrottypes.RunSucceeded {
			metrics.RunsSucceeded.Add(1)
		} else {
			metrics.RunsFailed.Add(1)
		}
	}
	if m.onAdvance != nil {
		m.onAdvance(ctx, run, newStatus)
	}
}

// runningStateFor names the phase's Running state that must be crossed
// before target, for the two destinations (spec §4.2 translation table)
// whose adjacency is restricted to Running/WaitingForQueueSpace sources.
// Every other destination is reachable directly from any non-terminal
// state in its phase, so this returns "" for them.
func runningStateFor(target carrottypes.RunStatus) carrottypes.RunStatus {
	switch target {
	case carrottypes.RunEvalSubmitted:
		return carrottypes.RunTestRunning
	case carrottypes.RunSucceeded:
		return carrottypes.RunEvalRunning
	default:
		return ""
	}
}

// fastForwardThroughRunning persists an intermediate transition to the
// phase's Running state when that is the only thing standing between run's
// current status and target, then returns the updated run (so the caller's
// subsequent CAS-guarded transition to target uses the right version) and
// whether the fast-forward succeeded. It refuses to fast-forward out of
// Aborting, since a run actively being aborted racing to Succeeded is a
// genuine conflict worth surfacing rather than papering over.
func (m *Manager) fastForwardThroughRunning(ctx context.Context, run carrottypes.Run, target carrottypes.RunStatus) (carrottypes.Run, bool) {
	running := runningStateFor(target)
	if running == "" || !lifecycle.CanTransition(run.Status, running) || !lifecycle.CanTransition(running, target) {
		return run, false
	}

	ok, err := m.store.TransitionRun(ctx, run.RunID, run.Version, running, "")
	if err != nil {
		m.logger.Error("failed to fast-forward run through running", "run_id", run.RunID, "error", err)
		return run, false
	}
	if !ok {
		return run, false
	}
	run.Status = running
	run.Version++
	if m.onAdvance != nil {
		m.onAdvance(ctx, run, running)
	}
	return run, true
}

// sweepBuilds polls every non-terminal software_build row the same way
// sweep polls non-terminal runs (spec §4.2's "...and non-terminal
// software_build rows" contract).
func (m *Manager) sweepBuilds(ctx context.Context) {
	builds, err := m.store.ListBuildsByStatus(ctx, pollableBuilds, 500)
	if err != nil {
		m.logger.Error("failed to list builds for sweep", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.SweepConcurrency)
	for _, b := range builds {
		b := b
		g.Go(func() error {
			m.checkBuild(gctx, b)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) checkBuild(ctx context.Context, build *carrottypes.SoftwareBuild) {
	if build.BuildJobID == nil {
		return
	}

	result, err := m.engine.Status(ctx, *build.BuildJobID)
	if err != nil {
		metrics.StatusPollErrors.Add(1)
		m.logger.Warn("build status check failed", "build_id", build.SoftwareBuildID, "error", err)
		return
	}

	newStatus, changed := nextBuildStatus(build.Status, result.Status)
	if !changed || !lifecycle.CanTransitionBuild(build.Status, newStatus) {
		return
	}

	var imageURL *string
	if newStatus == carrottypes.BuildSucceeded {
		outputs, err := m.engine.Outputs(ctx, *build.BuildJobID)
		if err != nil {
			m.logger.Error("failed to fetch build outputs", "build_id", build.SoftwareBuildID, "error", err)
			return
		}
		if raw, ok := outputs.Outputs["build.image_url"]; ok {
			url := fmt.Sprintf("%v", raw)
			imageURL = &url
		}
	}

	if err := m.store.UpdateBuildStatus(ctx, build.SoftwareBuildID, newStatus, imageURL, nil); err != nil {
		m.logger.Error("failed to persist build transition", "build_id", build.SoftwareBuildID, "error", err)
		return
	}
	switch newStatus {
	case carrottypes.BuildSucceeded:
		metrics.BuildsSucceeded.Add(1)
	case carrottypes.BuildFailed:
		metrics.BuildsFailed.Add(1)
	}
}

// nextBuildStatus maps a Cromwell poll result onto the next build FSM
// state (spec §4.2/§4.3); the build phase has no sub-phases to branch on,
// unlike nextStatus for runs.
func nextBuildStatus(current carrottypes.BuildStatus, engineStatus carrottypes.CromwellStatus) (carrottypes.BuildStatus, bool) {
	switch engineStatus {
	case carrottypes.CromwellSubmitted:
		return carrottypes.BuildSubmitted, current != carrottypes.BuildSubmitted
	case carrottypes.CromwellRunning:
		return carrottypes.BuildRunning, current != carrottypes.BuildRunning
	case carrottypes.CromwellSucceeded:
		return carrottypes.BuildSucceeded, true
	case carrottypes.CromwellFailed:
		return carrottypes.BuildFailed, true
	case carrottypes.CromwellAborting:
		return carrottypes.BuildAborting, current != carrottypes.BuildAborting
	case carrottypes.CromwellAborted:
		return carrottypes.BuildAborted, true
	default:
		return current, false
	}
}

// sweepPendingSubmissions retries test-phase submission for every run
// still parked at created or building (spec §4.1 step: created -> building
// -> test_submitted), so a software build finishing unblocks the run on
// the next tick instead of requiring the original caller to retry.
func (m *Manager) sweepPendingSubmissions(ctx context.Context) {
	if m.onRetrySubmit == nil {
		return
	}
	runs, err := m.store.ListRunsByStatus(ctx, pendingSubmission, 500)
	if err != nil {
		m.logger.Error("failed to list runs awaiting submission", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.SweepConcurrency)
	for _, run := range runs {
		run := run
		g.Go(func() error {
			m.retrySubmit(gctx, run)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) retrySubmit(ctx context.Context, run carrottypes.Run) {
	err := m.onRetrySubmit(ctx, run)
	if err == nil {
		return
	}

	var cerr *carrottypes.Error
	if errors.As(err, &cerr) && cerr.Kind == carrottypes.ErrExternalTransient {
		// Still waiting on a build; onRetrySubmit (submitter.SubmitTest)
		// already moved created -> building itself, nothing more to do
		// until a later tick.
		return
	}

	m.logger.Warn("retrying test submission failed", "run_id", run.RunID, "error", err)
	ok, tErr := m.store.TransitionRun(ctx, run.RunID, run.Version, carrottypes.RunCarrotFailed, err.Error())
	if tErr != nil {
		m.logger.Error("failed to force-fail run pending submission", "run_id", run.RunID, "error", tErr)
		return
	}
	if ok {
		metrics.RunsFailed.Add(1)
	}
}

// recordFailure implements the allowed-consecutive-failures invariant
// (spec §4.2): a run that fails enough consecutive status checks is force-
// transitioned to carrot_failed rather than polled forever.
func (m *Manager) recordFailure(ctx context.Context, run carrottypes.Run, pollErr error) {
	var cerr *carrottypes.Error
	if errors.As(pollErr, &cerr) && cerr.Kind == carrottypes.ErrExternalPermanent {
		m.forceFail(ctx, run, pollErr)
		return
	}

	count := 1
	if v, ok := m.failures.Load(run.RunID); ok {
		count = v.(int) + 1
	}
	m.failures.Store(run.RunID, count)

	if count >= m.config.AllowedConsecutiveFailures {
		m.forceFail(ctx, run, pollErr)
		return
	}
	m.logger.Warn("status check failed", "run_id", run.RunID, "consecutive_failures", count, "error", pollErr)
}

func (m *Manager) forceFail(ctx context.Context, run carrottypes.Run, cause error) {
	m.failures.Delete(run.RunID)
	ok, err := m.store.TransitionRun(ctx, run.RunID, run.Version, carrottypes.RunCarrotFailed, cause.Error())
	if err != nil {
		m.logger.Error("failed to force-fail run", "run_id", run.RunID, "error", err)
		return
	}
	if ok {
		metrics.RunsFailed.Add(1)
	}
}

// activeJobID returns the engine job id relevant to the run's current
// phase, or nil if the run isn't awaiting an engine result.
func activeJobID(run carrottypes.Run) *string {
	switch run.Status {
	case carrottypes.RunTestSubmitted, carrottypes.RunTestQueuedInCromwell,
		carrottypes.RunTestStarting, carrottypes.RunTestRunning, carrottypes.RunTestAborting:
		return run.TestCromwellJobID
	case carrottypes.RunEvalSubmitted, carrottypes.RunEvalQueuedInCromwell,
		carrottypes.RunEvalStarting, carrottypes.RunEvalRunning, carrottypes.RunEvalAborting:
		return run.EvalCromwellJobID
	default:
		return nil
	}
}

// nextStatus maps a Cromwell poll result onto the next run FSM state for
// the run's current phase (spec §4.2 translation table).
func nextStatus(current carrottypes.RunStatus, engineStatus carrottypes.CromwellStatus) (carrottypes.RunStatus, bool) {
	isEval := isEvalPhase(current)
	switch engineStatus {
	case carrottypes.CromwellSubmitted:
		if isEval {
			return carrottypes.RunEvalQueuedInCromwell, current != carrottypes.RunEvalQueuedInCromwell
		}
		return carrottypes.RunTestQueuedInCromwell, current != carrottypes.RunTestQueuedInCromwell
	case carrottypes.CromwellRunning:
		if isEval {
			return carrottypes.RunEvalRunning, current != carrottypes.RunEvalRunning
		}
		return carrottypes.RunTestRunning, current != carrottypes.RunTestRunning
	case carrottypes.CromwellSucceeded:
		if isEval {
			return carrottypes.RunSucceeded, true
		}
		return carrottypes.RunEvalSubmitted, true
	case carrottypes.CromwellFailed:
		if isEval {
			return carrottypes.RunEvalFailed, true
		}
		return carrottypes.RunTestFailed, true
	case carrottypes.CromwellAborting:
		if isEval {
			return carrottypes.RunEvalAborting, current != carrottypes.RunEvalAborting
		}
		return carrottypes.RunTestAborting, current != carrottypes.RunTestAborting
	case carrottypes.CromwellAborted:
		if isEval {
			return carrottypes.RunEvalAborted, true
		}
		return carrottypes.RunTestAborted, true
	default:
		return current, false
	}
}

func isEvalPhase(status carrottypes.RunStatus) bool {
	switch status {
	case carrottypes.RunEvalSubmitted, carrottypes.RunEvalQueuedInCromwell,
		carrottypes.RunEvalStarting, carrottypes.RunEvalRunning, carrottypes.RunEvalAborting:
		return true
	default:
		return false
	}
}
