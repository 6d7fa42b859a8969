package submitter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrotsystems/carrot/internal/buildcoordinator"
	"github.com/carrotsystems/carrot/internal/cromwell"
	"github.com/carrotsystems/carrot/internal/gitmirror"
	"github.com/carrotsystems/carrot/internal/objectstorage"
	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/internal/womtool"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// fakeStore implements only what the submitter exercises.
type fakeStore struct {
	store.Provider
	test       *carrottypes.Test
	mappings   []carrottypes.TemplateResult
	jobIDs     map[string][2]*string
	transitions []carrottypes.RunStatus
	results    []carrottypes.RunResult
	hashes     map[string]carrottypes.WDLHash
	software   *carrottypes.Software
	versions   map[string]*carrottypes.SoftwareVersion
	builds     map[string]*carrottypes.SoftwareBuild
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobIDs:   map[string][2]*string{},
		hashes:   map[string]carrottypes.WDLHash{},
		versions: map[string]*carrottypes.SoftwareVersion{},
		builds:   map[string]*carrottypes.SoftwareBuild{},
	}
}

func (f *fakeStore) GetSoftwareByName(ctx context.Context, name string) (*carrottypes.Software, error) {
	if f.software != nil && f.software.Name == name {
		return f.software, nil
	}
	return nil, nil
}

func (f *fakeStore) GetOrCreateSoftwareVersion(ctx context.Context, softwareID, commitHash string) (*carrottypes.SoftwareVersion, error) {
	key := softwareID + ":" + commitHash
	if v, ok := f.versions[key]; ok {
		return v, nil
	}
	v := &carrottypes.SoftwareVersion{SoftwareVersionID: "sv-" + commitHash, SoftwareID: softwareID, Commit: commitHash}
	f.versions[key] = v
	return v, nil
}

func (f *fakeStore) ResolveTag(ctx context.Context, softwareID, tag string) (*carrottypes.SoftwareVersion, error) {
	return nil, nil
}

func (f *fakeStore) FindOrCreateActiveBuild(ctx context.Context, softwareVersionID string) (*carrottypes.SoftwareBuild, bool, error) {
	if b, ok := f.builds[softwareVersionID]; ok {
		return b, false, nil
	}
	b := &carrottypes.SoftwareBuild{SoftwareBuildID: "b-" + softwareVersionID, SoftwareVersionID: softwareVersionID, Status: carrottypes.BuildCreated}
	f.builds[softwareVersionID] = b
	return b, true, nil
}

func (f *fakeStore) UpdateBuildStatus(ctx context.Context, buildID string, status carrottypes.BuildStatus, imageURL, buildJobID *string) error {
	for _, b := range f.builds {
		if b.SoftwareBuildID == buildID {
			b.Status = status
		}
	}
	return nil
}

func (f *fakeStore) AttachRunSoftwareVersion(ctx context.Context, rv carrottypes.RunSoftwareVersion) error {
	return nil
}

func (f *fakeStore) SetRunCromwellJobID(ctx context.Context, runID string, testJobID, evalJobID *string) error {
	f.jobIDs[runID] = [2]*string{testJobID, evalJobID}
	return nil
}

func (f *fakeStore) TransitionRun(ctx context.Context, runID string, expectedVersion int, newStatus carrottypes.RunStatus, errMsg string) (bool, error) {
	f.transitions = append(f.transitions, newStatus)
	return true, nil
}

func (f *fakeStore) GetWDLHash(ctx context.Context, hash string) (*carrottypes.WDLHash, error) {
	if w, ok := f.hashes[hash]; ok {
		return &w, nil
	}
	return nil, nil
}

func (f *fakeStore) PutWDLHash(ctx context.Context, w carrottypes.WDLHash) error {
	f.hashes[w.Hash] = w
	return nil
}

func (f *fakeStore) GetTest(ctx context.Context, id string) (*carrottypes.Test, error) {
	return f.test, nil
}

func (f *fakeStore) ListResultsByTemplate(ctx context.Context, templateID string) ([]carrottypes.TemplateResult, error) {
	return f.mappings, nil
}

func (f *fakeStore) AppendRunResult(ctx context.Context, rr carrottypes.RunResult) error {
	f.results = append(f.results, rr)
	return nil
}

func fakeValidator(t *testing.T) *womtool.Validator {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "java")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho valid && exit 0"), 0o755))
	return womtool.NewWithJavaBin("unused.jar", path)
}

func newSubmitter(t *testing.T, fs *fakeStore, engineURL string) *Submitter {
	engine := cromwell.New(engineURL, time.Second)
	coord := buildcoordinator.New(fs, engine, gitmirror.New(), "", nil)
	wdl, err := objectstorage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return New(fs, engine, coord, wdl, fakeValidator(t), nil)
}

func TestSubmitTest_SkipsIfAlreadySubmitted(t *testing.T) {
	fs := newFakeStore()
	sub := newSubmitter(t, fs, "http://unused")
	existing := "job-already-there"
	run := carrottypes.Run{RunID: "r1", TestInput: []byte(`{}`), TestWDL: "workflow W {}", TestCromwellJobID: &existing}
	err := sub.SubmitTest(context.Background(), run)
	require.NoError(t, err)
	assert.Empty(t, fs.transitions)
}

func TestSubmitTest_SubmitsAndPersistsJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"job-1","status":"Submitted"}`))
	}))
	defer srv.Close()

	fs := newFakeStore()
	sub := newSubmitter(t, fs, srv.URL)
	run := carrottypes.Run{RunID: "r1", Version: 1, TestInput: []byte(`{"W.n":"kevin"}`), TestWDL: "workflow W {}"}
	err := sub.SubmitTest(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "job-1", *fs.jobIDs["r1"][0])
	assert.Equal(t, []carrottypes.RunStatus{carrottypes.RunTestSubmitted}, fs.transitions)
}

func TestSubmitTest_PendingBuildParksRunAtBuildingAndReturnsTransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"build-job-1","status":"Submitted"}`))
	}))
	defer srv.Close()

	fs := newFakeStore()
	fs.software = &carrottypes.Software{SoftwareID: "sw1", Name: "gatk", RepoURL: "https://example.com/gatk.git"}
	sub := newSubmitter(t, fs, srv.URL)

	commit := "0123456789abcdef0123456789abcdef01234567"
	run := carrottypes.Run{
		RunID:   "r1",
		Version: 3,
		Status:  carrottypes.RunCreated,
		TestInput: []byte(`{"W.image":"image_build:gatk|` + commit + `"}`),
		TestWDL: "workflow W {}",
	}
	err := sub.SubmitTest(context.Background(), run)
	require.Error(t, err)
	var cerr *carrottypes.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, carrottypes.ErrExternalTransient, cerr.Kind)
	assert.Equal(t, []carrottypes.RunStatus{carrottypes.RunBuilding}, fs.transitions)
}

func TestSubmitTest_PendingBuildOnNonCreatedRunDoesNotRetransition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"build-job-1","status":"Submitted"}`))
	}))
	defer srv.Close()

	fs := newFakeStore()
	fs.software = &carrottypes.Software{SoftwareID: "sw1", Name: "gatk", RepoURL: "https://example.com/gatk.git"}
	sub := newSubmitter(t, fs, srv.URL)

	commit := "0123456789abcdef0123456789abcdef01234567"
	run := carrottypes.Run{
		RunID:   "r1",
		Version: 4,
		Status:  carrottypes.RunBuilding,
		TestInput: []byte(`{"W.image":"image_build:gatk|` + commit + `"}`),
		TestWDL: "workflow W {}",
	}
	err := sub.SubmitTest(context.Background(), run)
	require.Error(t, err)
	var cerr *carrottypes.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, carrottypes.ErrExternalTransient, cerr.Kind)
	assert.Empty(t, fs.transitions)
}

func TestCollectResults_MapsTemplateOutputsToRunResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"outputs":{"W.score":42}}`))
	}))
	defer srv.Close()

	fs := newFakeStore()
	fs.test = &carrottypes.Test{TestID: "t1", TemplateID: "tmpl1"}
	fs.mappings = []carrottypes.TemplateResult{{TemplateID: "tmpl1", ResultID: "res1", OutputKey: "W.score"}}
	sub := newSubmitter(t, fs, srv.URL)

	jobID := "eval-job"
	run := carrottypes.Run{RunID: "r1", TestID: "t1", EvalCromwellJobID: &jobID}
	err := sub.CollectResults(context.Background(), run)
	require.NoError(t, err)
	require.Len(t, fs.results, 1)
	assert.Equal(t, "res1", fs.results[0].ResultID)
	assert.Equal(t, "42", fs.results[0].Value)
}
