package statusmanager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrotsystems/carrot/internal/cromwell"
	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

func TestNextStatus_TestPhaseRunningThenSucceededAdvancesToEvalSubmitted(t *testing.T) {
	next, changed := nextStatus(carrottypes.RunTestRunning, carrottypes.CromwellRunning)
	assert.False(t, changed)
	assert.Equal(t, carrottypes.RunTestRunning, next)

	next, changed = nextStatus(carrottypes.RunTestRunning, carrottypes.CromwellSucceeded)
	assert.True(t, changed)
	assert.Equal(t, carrottypes.RunEvalSubmitted, next)
}

func TestNextStatus_EvalPhaseSucceededIsTerminal(t *testing.T) {
	next, changed := nextStatus(carrottypes.RunEvalRunning, carrottypes.CromwellSucceeded)
	assert.True(t, changed)
	assert.Equal(t, carrottypes.RunSucceeded, next)
}

func TestNextStatus_FailureMapsToPhaseSpecificFailedState(t *testing.T) {
	next, _ := nextStatus(carrottypes.RunTestRunning, carrottypes.CromwellFailed)
	assert.Equal(t, carrottypes.RunTestFailed, next)

	next, _ = nextStatus(carrottypes.RunEvalRunning, carrottypes.CromwellFailed)
	assert.Equal(t, carrottypes.RunEvalFailed, next)
}

func TestActiveJobID_ReturnsNilWhenRunNotAwaitingEngine(t *testing.T) {
	run := carrottypes.Run{Status: carrottypes.RunCreated}
	assert.Nil(t, activeJobID(run))
}

func TestActiveJobID_ReturnsTestJobDuringTestPhase(t *testing.T) {
	jobID := "job-123"
	run := carrottypes.Run{Status: carrottypes.RunTestRunning, TestCromwellJobID: &jobID}
	assert.Equal(t, &jobID, activeJobID(run))
}

func TestNextBuildStatus_RunningThenSucceededAdvancesToSucceeded(t *testing.T) {
	next, changed := nextBuildStatus(carrottypes.BuildRunning, carrottypes.CromwellRunning)
	assert.False(t, changed)
	assert.Equal(t, carrottypes.BuildRunning, next)

	next, changed = nextBuildStatus(carrottypes.BuildRunning, carrottypes.CromwellSucceeded)
	assert.True(t, changed)
	assert.Equal(t, carrottypes.BuildSucceeded, next)
}

func TestNextBuildStatus_FailureMapsToBuildFailed(t *testing.T) {
	next, changed := nextBuildStatus(carrottypes.BuildRunning, carrottypes.CromwellFailed)
	assert.True(t, changed)
	assert.Equal(t, carrottypes.BuildFailed, next)
}

func TestRunningStateFor_OnlyRestrictsEvalSubmittedAndSucceeded(t *testing.T) {
	assert.Equal(t, carrottypes.RunTestRunning, runningStateFor(carrottypes.RunEvalSubmitted))
	assert.Equal(t, carrottypes.RunEvalRunning, runningStateFor(carrottypes.RunSucceeded))
	assert.Equal(t, carrottypes.RunStatus(""), runningStateFor(carrottypes.RunTestFailed))
}

// fakeManagerStore implements only what Manager exercises; every other
// store.Provider method panics so an unexpected call fails loudly.
type fakeManagerStore struct {
	store.Provider
	run          carrottypes.Run
	builds       []*carrottypes.SoftwareBuild
	transitions  []carrottypes.RunStatus
	buildUpdates []carrottypes.BuildStatus
}

func (f *fakeManagerStore) ListRunsByStatus(ctx context.Context, statuses []carrottypes.RunStatus, limit int) ([]carrottypes.Run, error) {
	for _, st := range statuses {
		if f.run.Status == st {
			return []carrottypes.Run{f.run}, nil
		}
	}
	return nil, nil
}

func (f *fakeManagerStore) ListBuildsByStatus(ctx context.Context, statuses []carrottypes.BuildStatus, limit int) ([]*carrottypes.SoftwareBuild, error) {
	var out []*carrottypes.SoftwareBuild
	for _, b := range f.builds {
		for _, st := range statuses {
			if b.Status == st {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

func (f *fakeManagerStore) TransitionRun(ctx context.Context, runID string, expectedVersion int, newStatus carrottypes.RunStatus, errMsg string) (bool, error) {
	f.transitions = append(f.transitions, newStatus)
	f.run.Status = newStatus
	f.run.Version++
	return true, nil
}

func (f *fakeManagerStore) UpdateBuildStatus(ctx context.Context, buildID string, status carrottypes.BuildStatus, imageURL, buildJobID *string) error {
	f.buildUpdates = append(f.buildUpdates, status)
	for _, b := range f.builds {
		if b.SoftwareBuildID == buildID {
			b.Status = status
			if imageURL != nil {
				b.ImageURL = imageURL
			}
		}
	}
	return nil
}

func TestCheckOne_FastForwardsThroughRunningWhenCromwellSkipsAhead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"Succeeded"}`))
	}))
	defer srv.Close()

	jobID := "job-1"
	fs := &fakeManagerStore{run: carrottypes.Run{
		RunID: "r1", Version: 1, Status: carrottypes.RunTestSubmitted, TestCromwellJobID: &jobID,
	}}
	var advanced []carrottypes.RunStatus
	onAdvance := func(ctx context.Context, run carrottypes.Run, newStatus carrottypes.RunStatus) {
		advanced = append(advanced, newStatus)
	}
	mgr := New(fs, cromwell.New(srv.URL, time.Second), onAdvance, nil, nil, carrottypes.StatusManagerConfig{})

	mgr.checkOne(context.Background(), fs.run)

	require.Equal(t, []carrottypes.RunStatus{carrottypes.RunTestRunning, carrottypes.RunEvalSubmitted}, fs.transitions)
	assert.Equal(t, []carrottypes.RunStatus{carrottypes.RunTestRunning, carrottypes.RunEvalSubmitted}, advanced)
}

func TestCheckBuild_SucceededFetchesImageURLFromOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/workflows/v1/build-job-1/status" {
			_, _ = w.Write([]byte(`{"status":"Succeeded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"outputs":{"build.image_url":"registry/gatk:abc123"}}`))
	}))
	defer srv.Close()

	jobID := "build-job-1"
	build := &carrottypes.SoftwareBuild{SoftwareBuildID: "b1", Status: carrottypes.BuildSubmitted, BuildJobID: &jobID}
	fs := &fakeManagerStore{builds: []*carrottypes.SoftwareBuild{build}}
	mgr := New(fs, cromwell.New(srv.URL, time.Second), nil, nil, nil, carrottypes.StatusManagerConfig{})

	mgr.checkBuild(context.Background(), build)

	require.Equal(t, []carrottypes.BuildStatus{carrottypes.BuildSucceeded}, fs.buildUpdates)
	require.NotNil(t, build.ImageURL)
	assert.Equal(t, "registry/gatk:abc123", *build.ImageURL)
}

func TestRetrySubmit_TransientErrorLeavesRunUntouched(t *testing.T) {
	fs := &fakeManagerStore{run: carrottypes.Run{RunID: "r1", Version: 1, Status: carrottypes.RunBuilding}}
	onRetry := func(ctx context.Context, run carrottypes.Run) error {
		return carrottypes.NewError(carrottypes.ErrExternalTransient, "still waiting", nil)
	}
	mgr := New(fs, cromwell.New("http://unused", time.Second), nil, onRetry, nil, carrottypes.StatusManagerConfig{})

	mgr.retrySubmit(context.Background(), fs.run)

	assert.Empty(t, fs.transitions)
}

func TestRetrySubmit_PermanentErrorForceFailsRun(t *testing.T) {
	fs := &fakeManagerStore{run: carrottypes.Run{RunID: "r1", Version: 1, Status: carrottypes.RunBuilding}}
	onRetry := func(ctx context.Context, run carrottypes.Run) error {
		return carrottypes.NewError(carrottypes.ErrValidation, "bad wdl", nil)
	}
	mgr := New(fs, cromwell.New("http://unused", time.Second), nil, onRetry, nil, carrottypes.StatusManagerConfig{})

	mgr.retrySubmit(context.Background(), fs.run)

	assert.Equal(t, []carrottypes.RunStatus{carrottypes.RunCarrotFailed}, fs.transitions)
}
