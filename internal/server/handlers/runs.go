package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/carrotsystems/carrot/internal/lifecycle"
	"github.com/carrotsystems/carrot/internal/metrics"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// runRequest is the body accepted by RunTest: everything is optional and
// falls back to the test's own defaults (spec §4.4), the same override
// shape internal/rungroup applies to GitHub-triggered runs.
type runRequest struct {
	Name        string          `json:"name,omitempty"`
	TestInput   json.RawMessage `json:"testInput,omitempty"`
	TestOptions json.RawMessage `json:"testOptions,omitempty"`
	EvalInput   json.RawMessage `json:"evalInput,omitempty"`
	EvalOptions json.RawMessage `json:"evalOptions,omitempty"`
	CreatedBy   string          `json:"createdBy,omitempty"`
}

// RunTest creates and submits a new run against a test, snapshotting the
// test's template WDL sources onto the run (invariant 5).
func (h *Handlers) RunTest(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")

	test, err := h.store.GetTest(r.Context(), testID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to look up test", err)
		return
	}
	if test == nil {
		h.writeError(w, http.StatusNotFound, "test not found", nil)
		return
	}
	template, err := h.store.GetTemplate(r.Context(), test.TemplateID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to look up template", err)
		return
	}
	if template == nil {
		h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("template %s not found", test.TemplateID), nil)
		return
	}

	var body runRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
			return
		}
	}

	testWDL, testDeps, evalWDL, evalDeps, err := h.resolveTemplateWDLs(r.Context(), template)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to resolve wdl sources", err)
		return
	}

	testInput, testOptions, evalInput, evalOptions := test.TestInput, test.TestOptions, test.EvalInput, test.EvalOptions
	if len(body.TestInput) > 0 {
		testInput = body.TestInput
	}
	if len(body.TestOptions) > 0 {
		testOptions = body.TestOptions
	}
	if len(body.EvalInput) > 0 {
		evalInput = body.EvalInput
	}
	if len(body.EvalOptions) > 0 {
		evalOptions = body.EvalOptions
	}

	name := body.Name
	if name == "" {
		name = test.Name
	}

	run := carrottypes.Run{
		RunID:               ulid.Make().String(),
		TestID:              test.TestID,
		Name:                name,
		Status:              carrottypes.RunCreated,
		Version:             1,
		TestInput:           testInput,
		TestOptions:         testOptions,
		EvalInput:           evalInput,
		EvalOptions:         evalOptions,
		TestWDL:             testWDL,
		TestWDLDependencies: testDeps,
		EvalWDL:             evalWDL,
		EvalWDLDependencies: evalDeps,
		CreatedAt:           time.Now(),
		CreatedBy:           body.CreatedBy,
	}

	if err := h.store.CreateRun(r.Context(), run); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create run", err)
		return
	}
	metrics.RunsCreated.Add(1)

	if err := h.submit.SubmitTest(r.Context(), run); err != nil {
		if !isBuildPending(err) {
			h.writeDomainError(w, err)
			return
		}
		// The run row itself was created successfully; it is now parked at
		// building and the Status Manager's pending-submission sweep will
		// retry SubmitTest once the software build resolves (spec §4.2/§4.3).
		h.logger.Info("run waiting on software build", "run_id", run.RunID)
		run.Status = carrottypes.RunBuilding
	}

	w.WriteHeader(http.StatusAccepted)
	_ = encodeJSON(w, run)
}

// isBuildPending reports whether err is the retryable "waiting on software
// build" error SubmitTest/SubmitEval return when buildcoordinator.ResolveAll
// finds an in-flight build — expected, not a request failure.
func isBuildPending(err error) bool {
	var derr *carrottypes.Error
	return errors.As(err, &derr) && derr.Kind == carrottypes.ErrExternalTransient
}

// resolveTemplateWDLs fetches the literal WDL source/dependency-zip bytes
// a template's location fields point to, grounded on the same pattern as
// internal/rungroup.Coordinator.resolveWDLs: an empty location field
// resolves to an empty string rather than a fetch.
func (h *Handlers) resolveTemplateWDLs(ctx context.Context, template *carrottypes.Template) (testWDL, testDeps, evalWDL, evalDeps string, err error) {
	fetch := func(location string) (string, error) {
		if location == "" {
			return "", nil
		}
		data, err := h.wdl.FetchLocation(ctx, location)
		if err != nil {
			return "", fmt.Errorf("fetch wdl location %q: %w", location, err)
		}
		return string(data), nil
	}

	if testWDL, err = fetch(template.TestWDL); err != nil {
		return "", "", "", "", err
	}
	if testDeps, err = fetch(template.TestWDLDependencies); err != nil {
		return "", "", "", "", err
	}
	if evalWDL, err = fetch(template.EvalWDL); err != nil {
		return "", "", "", "", err
	}
	if evalDeps, err = fetch(template.EvalWDLDependencies); err != nil {
		return "", "", "", "", err
	}
	return testWDL, testDeps, evalWDL, evalDeps, nil
}

// GetRun returns a single run.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get run", err)
		return
	}
	if run == nil {
		h.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}
	_ = encodeJSON(w, run)
}

// ListRuns returns runs in any of the given statuses (default: every
// non-terminal status), bounded by ?limit= (default 20).
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	statuses := lifecycle.NonTerminalRunStatuses()
	if s := r.URL.Query().Get("status"); s != "" {
		statuses = []carrottypes.RunStatus{carrottypes.RunStatus(s)}
	}

	runs, err := h.store.ListRunsByStatus(r.Context(), statuses, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []carrottypes.Run{}
	}
	_ = encodeJSON(w, runs)
}

// ListRunErrors returns a run's append-only error log.
func (h *Handlers) ListRunErrors(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	errs, err := h.store.ListRunErrors(r.Context(), runID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list run errors", err)
		return
	}
	if errs == nil {
		errs = []carrottypes.RunError{}
	}
	_ = encodeJSON(w, errs)
}

// ListRunResults returns a run's extracted result values.
func (h *Handlers) ListRunResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	results, err := h.store.ListRunResultsByRun(r.Context(), runID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list run results", err)
		return
	}
	if results == nil {
		results = []carrottypes.RunResult{}
	}
	_ = encodeJSON(w, results)
}

// AbortRun best-effort requests termination of a run's active Cromwell
// phase and advances its state to the corresponding *_aborting status
// (spec §6); the status manager sweep reconciles the confirmed *_aborted
// terminal once Cromwell reports it.
func (h *Handlers) AbortRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to look up run", err)
		return
	}
	if run == nil {
		h.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}
	if lifecycle.IsTerminal(run.Status) {
		h.writeError(w, http.StatusConflict, "run already reached a terminal state", nil)
		return
	}

	var jobID string
	var target carrottypes.RunStatus
	if run.EvalCromwellJobID != nil {
		jobID, target = *run.EvalCromwellJobID, carrottypes.RunEvalAborting
	} else if run.TestCromwellJobID != nil {
		jobID, target = *run.TestCromwellJobID, carrottypes.RunTestAborting
	} else {
		h.writeError(w, http.StatusConflict, "run has not been submitted to the engine yet", nil)
		return
	}

	if err := h.engine.Abort(r.Context(), jobID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	ok, err := h.store.TransitionRun(r.Context(), runID, run.Version, target, "")
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to record abort", err)
		return
	}
	if !ok {
		h.writeError(w, http.StatusConflict, "run was concurrently modified", nil)
		return
	}

	run.Status = target
	_ = encodeJSON(w, run)
}
