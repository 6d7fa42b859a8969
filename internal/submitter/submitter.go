// Package submitter implements the Run Submitter (spec §4.4): composing a
// run's concrete test/eval input JSON by resolving magic-string references
// (internal/refparse), caching each distinct WDL source by content hash
// with a cached womtool validation result, submitting the composed
// workflow to Cromwell, and persisting the returned job id idempotently —
// a resubmission attempt against a run that already has a job id recorded
// is a no-op rather than a duplicate submission.
//
// Grounded on the teacher's internal/trigger/sfn.go submit-then-persist
// shape (submit to the external engine, then write the returned execution
// id before the caller's transaction moves on) and on
// internal/watcher/loop.go's tick(), whose CAS version-guarded update is
// the same idempotency primitive used here by store.TransitionRun.
package submitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/carrotsystems/carrot/internal/buildcoordinator"
	"github.com/carrotsystems/carrot/internal/cromwell"
	"github.com/carrotsystems/carrot/internal/metrics"
	"github.com/carrotsystems/carrot/internal/objectstorage"
	"github.com/carrotsystems/carrot/internal/refparse"
	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/internal/womtool"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// Submitter composes and submits the test and eval phases of a run.
type Submitter struct {
	store     store.Provider
	engine    *cromwell.Client
	builds    *buildcoordinator.Coordinator
	wdl       *objectstorage.Store
	validator *womtool.Validator
	logger    *slog.Logger
}

// New constructs a Submitter.
func New(st store.Provider, engine *cromwell.Client, builds *buildcoordinator.Coordinator, wdl *objectstorage.Store, validator *womtool.Validator, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{store: st, engine: engine, builds: builds, wdl: wdl, validator: validator, logger: logger}
}

// SubmitTest composes and submits a run's test phase. Idempotent: a run
// that already has a TestCromwellJobID recorded is left untouched.
func (s *Submitter) SubmitTest(ctx context.Context, run carrottypes.Run) error {
	if run.TestCromwellJobID != nil {
		return nil
	}

	resolutions, err := s.builds.ResolveAll(ctx, run.TestInput)
	if err != nil {
		return fmt.Errorf("resolve test input references: %w", err)
	}
	for _, r := range resolutions {
		if err := s.store.AttachRunSoftwareVersion(ctx, carrottypes.RunSoftwareVersion{RunID: run.RunID, SoftwareVersionID: r.SoftwareVersionID}); err != nil {
			return fmt.Errorf("record software dependency: %w", err)
		}
	}
	if firstPending(resolutions) {
		return s.waitOnBuild(ctx, run)
	}

	input, err := substituteImages(run.TestInput, resolutions)
	if err != nil {
		return fmt.Errorf("substitute resolved images into test input: %w", err)
	}

	if err := s.validateAndCache(ctx, run.TestWDL); err != nil {
		return err
	}

	result, err := s.engine.Submit(ctx, cromwell.SubmitRequest{
		WorkflowSource:       run.TestWDL,
		WorkflowDependencies: []byte(run.TestWDLDependencies),
		WorkflowInputs:       input,
		WorkflowOptions:      run.TestOptions,
	})
	metrics.SubmissionsTotal.Add(1)
	if err != nil {
		metrics.SubmissionsFailed.Add(1)
		return fmt.Errorf("submit test workflow: %w", err)
	}

	jobID := result.ID
	if err := s.store.SetRunCromwellJobID(ctx, run.RunID, &jobID, nil); err != nil {
		return fmt.Errorf("persist test job id: %w", err)
	}
	if ok, err := s.store.TransitionRun(ctx, run.RunID, run.Version, carrottypes.RunTestSubmitted, ""); err != nil {
		return fmt.Errorf("transition run to test_submitted: %w", err)
	} else if !ok {
		s.logger.Warn("lost CAS race transitioning to test_submitted", "run_id", run.RunID)
	}
	s.logger.Info("test workflow submitted", "run_id", run.RunID, "job_id", jobID)
	return nil
}

// SubmitEval composes and submits a run's eval phase once the test phase
// has succeeded. Invoked as the Status Manager's onAdvance hook fires for
// the test_running -> eval_submitted transition (spec §4.2/§4.4 wiring).
func (s *Submitter) SubmitEval(ctx context.Context, run carrottypes.Run) error {
	if run.EvalCromwellJobID != nil {
		return nil
	}
	if run.TestCromwellJobID == nil {
		return carrottypes.NewError(carrottypes.ErrCarrotInternal, "eval submission attempted before test job id is known", nil)
	}

	outputs, err := s.engine.Outputs(ctx, *run.TestCromwellJobID)
	if err != nil {
		return fmt.Errorf("fetch test outputs: %w", err)
	}

	resolved, err := resolveTestOutputs(run.EvalInput, outputs.Outputs)
	if err != nil {
		return fmt.Errorf("resolve test_output references: %w", err)
	}
	evalInput, err := refparse.Substitute(run.EvalInput, resolved)
	if err != nil {
		return fmt.Errorf("substitute test outputs into eval input: %w", err)
	}

	resolutions, err := s.builds.ResolveAll(ctx, evalInput)
	if err != nil {
		return fmt.Errorf("resolve eval input references: %w", err)
	}
	for _, r := range resolutions {
		if err := s.store.AttachRunSoftwareVersion(ctx, carrottypes.RunSoftwareVersion{RunID: run.RunID, SoftwareVersionID: r.SoftwareVersionID}); err != nil {
			return fmt.Errorf("record software dependency: %w", err)
		}
	}
	if firstPending(resolutions) {
		return carrottypes.NewError(carrottypes.ErrExternalTransient, "waiting on software build, retry later", nil)
	}
	evalInput, err = substituteImages(evalInput, resolutions)
	if err != nil {
		return fmt.Errorf("substitute resolved images into eval input: %w", err)
	}

	if err := s.validateAndCache(ctx, run.EvalWDL); err != nil {
		return err
	}

	result, err := s.engine.Submit(ctx, cromwell.SubmitRequest{
		WorkflowSource:       run.EvalWDL,
		WorkflowDependencies: []byte(run.EvalWDLDependencies),
		WorkflowInputs:       evalInput,
		WorkflowOptions:      run.EvalOptions,
	})
	metrics.SubmissionsTotal.Add(1)
	if err != nil {
		metrics.SubmissionsFailed.Add(1)
		return fmt.Errorf("submit eval workflow: %w", err)
	}

	jobID := result.ID
	if err := s.store.SetRunCromwellJobID(ctx, run.RunID, nil, &jobID); err != nil {
		return fmt.Errorf("persist eval job id: %w", err)
	}
	s.logger.Info("eval workflow submitted", "run_id", run.RunID, "job_id", jobID)
	return nil
}

// CollectResults reads a succeeded run's eval outputs and records the ones
// mapped by the run's template as typed results (spec §3 template_results).
func (s *Submitter) CollectResults(ctx context.Context, run carrottypes.Run) error {
	if run.EvalCromwellJobID == nil {
		return carrottypes.NewError(carrottypes.ErrCarrotInternal, "result collection attempted without an eval job id", nil)
	}
	test, err := s.store.GetTest(ctx, run.TestID)
	if err != nil {
		return fmt.Errorf("lookup test: %w", err)
	}
	if test == nil {
		return carrottypes.NewError(carrottypes.ErrCarrotInternal, fmt.Sprintf("test %s not found", run.TestID), nil)
	}
	mappings, err := s.store.ListResultsByTemplate(ctx, test.TemplateID)
	if err != nil {
		return fmt.Errorf("list template result mappings: %w", err)
	}

	outputs, err := s.engine.Outputs(ctx, *run.EvalCromwellJobID)
	if err != nil {
		return fmt.Errorf("fetch eval outputs: %w", err)
	}

	for _, m := range mappings {
		raw, ok := outputs.Outputs[m.OutputKey]
		if !ok {
			continue
		}
		if err := s.store.AppendRunResult(ctx, carrottypes.RunResult{RunID: run.RunID, ResultID: m.ResultID, Value: fmt.Sprintf("%v", raw)}); err != nil {
			return fmt.Errorf("append run result %s: %w", m.ResultID, err)
		}
	}
	return nil
}

// validateAndCache runs womtool against wdlSource unless a cached result
// already exists for its content hash, and stores the source bytes in the
// content-addressed WDL store regardless of validation outcome so the
// invalid-WDL error can be inspected later.
func (s *Submitter) validateAndCache(ctx context.Context, wdlSource string) error {
	hash := objectstorage.Hash([]byte(wdlSource))
	if cached, err := s.store.GetWDLHash(ctx, hash); err != nil {
		return fmt.Errorf("lookup cached wdl validation: %w", err)
	} else if cached != nil {
		if !cached.WomtoolOK {
			return carrottypes.NewError(carrottypes.ErrValidation, "wdl failed validation: "+cached.WomtoolMsg, nil)
		}
		return nil
	}

	_, location, err := s.wdl.Put(ctx, []byte(wdlSource))
	if err != nil {
		return fmt.Errorf("store wdl source: %w", err)
	}

	result, err := s.validator.Validate(ctx, []byte(wdlSource))
	if err != nil {
		return fmt.Errorf("run womtool: %w", err)
	}
	if err := s.store.PutWDLHash(ctx, carrottypes.WDLHash{Hash: hash, Location: location, WomtoolOK: result.OK, WomtoolMsg: result.Message}); err != nil {
		return fmt.Errorf("cache wdl validation result: %w", err)
	}
	if !result.OK {
		return carrottypes.NewError(carrottypes.ErrValidation, "wdl failed validation: "+result.Message, nil)
	}
	return nil
}

// waitOnBuild records that run is blocked on a pending software build
// (spec §4.3 steps 4-5) and returns the retryable error SubmitTest's
// callers expect. A run still at created moves to building so it is
// visible as "waiting on a build" rather than indistinguishable from a run
// nobody has attempted to submit yet; the Status Manager's
// pending-submission sweep (spec §4.2) retries SubmitTest once the build
// resolves, so callers of SubmitTest itself no longer need to retry.
func (s *Submitter) waitOnBuild(ctx context.Context, run carrottypes.Run) error {
	if run.Status == carrottypes.RunCreated {
		if ok, err := s.store.TransitionRun(ctx, run.RunID, run.Version, carrottypes.RunBuilding, ""); err != nil {
			return fmt.Errorf("transition run to building: %w", err)
		} else if !ok {
			s.logger.Warn("lost CAS race transitioning to building", "run_id", run.RunID)
		}
	}
	return carrottypes.NewError(carrottypes.ErrExternalTransient, "waiting on software build, retry later", nil)
}

func firstPending(resolutions []buildcoordinator.Resolution) bool {
	for _, r := range resolutions {
		if r.Pending {
			return true
		}
	}
	return false
}

// substituteImages replaces each resolved image_build: reference's path
// with its built image URL. Pending resolutions are never reached here
// since callers bail out via firstPending first.
func substituteImages(input json.RawMessage, resolutions []buildcoordinator.Resolution) (json.RawMessage, error) {
	if len(resolutions) == 0 {
		return input, nil
	}
	resolved := make(map[string]string, len(resolutions))
	for _, r := range resolutions {
		resolved[r.Path] = r.ImageURL
	}
	return refparse.Substitute(input, resolved)
}

// resolveTestOutputs maps each test_output: reference found in evalInput to
// the corresponding value from the test phase's Cromwell outputs, keyed as
// Cromwell names them: "<workflow>.<output>".
func resolveTestOutputs(evalInput json.RawMessage, outputs map[string]interface{}) (map[string]string, error) {
	refs, err := refparse.ScanJSON(evalInput)
	if err != nil {
		return nil, fmt.Errorf("scan eval input for test_output refs: %w", err)
	}
	resolved := map[string]string{}
	for _, pr := range refs {
		if pr.Ref.Kind != refparse.TestOutput {
			continue
		}
		key := pr.Ref.Workflow + "." + pr.Ref.OutputName
		value, ok := outputs[key]
		if !ok {
			return nil, carrottypes.NewError(carrottypes.ErrValidation, fmt.Sprintf("test_output %q not found in test outputs", key), nil)
		}
		resolved[pr.Path] = fmt.Sprintf("%v", value)
	}
	return resolved, nil
}
