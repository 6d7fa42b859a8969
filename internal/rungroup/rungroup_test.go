package rungroup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
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
	"github.com/carrotsystems/carrot/internal/submitter"
	"github.com/carrotsystems/carrot/internal/womtool"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

type fakeStore struct {
	store.Provider
	test     *carrottypes.Test
	template *carrottypes.Template

	createdRuns   []carrottypes.Run
	createdGroups []carrottypes.RunGroup
	groupMembers  []carrottypes.RunInGroup
	jobIDs        map[string]*string
	transitions   []carrottypes.RunStatus

	software *carrottypes.Software
	versions map[string]*carrottypes.SoftwareVersion
	builds   map[string]*carrottypes.SoftwareBuild
}

func (f *fakeStore) GetSoftwareByName(ctx context.Context, name string) (*carrottypes.Software, error) {
	if f.software != nil && f.software.Name == name {
		return f.software, nil
	}
	return nil, nil
}

func (f *fakeStore) GetOrCreateSoftwareVersion(ctx context.Context, softwareID, commitHash string) (*carrottypes.SoftwareVersion, error) {
	if f.versions == nil {
		f.versions = map[string]*carrottypes.SoftwareVersion{}
	}
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
	if f.builds == nil {
		f.builds = map[string]*carrottypes.SoftwareBuild{}
	}
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

func (f *fakeStore) GetTestByName(ctx context.Context, name string) (*carrottypes.Test, error) {
	if f.test != nil && f.test.Name == name {
		return f.test, nil
	}
	return nil, nil
}

func (f *fakeStore) GetTemplate(ctx context.Context, id string) (*carrottypes.Template, error) {
	if f.template != nil && f.template.TemplateID == id {
		return f.template, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateRun(ctx context.Context, r carrottypes.Run) error {
	f.createdRuns = append(f.createdRuns, r)
	return nil
}

func (f *fakeStore) CreateRunGroup(ctx context.Context, g carrottypes.RunGroup) error {
	f.createdGroups = append(f.createdGroups, g)
	return nil
}

func (f *fakeStore) AddRunToGroup(ctx context.Context, rg carrottypes.RunInGroup) error {
	f.groupMembers = append(f.groupMembers, rg)
	return nil
}

func (f *fakeStore) AttachRunSoftwareVersion(ctx context.Context, rv carrottypes.RunSoftwareVersion) error {
	return nil
}

func (f *fakeStore) SetRunCromwellJobID(ctx context.Context, runID string, testJobID, evalJobID *string) error {
	if f.jobIDs == nil {
		f.jobIDs = map[string]*string{}
	}
	if testJobID != nil {
		f.jobIDs[runID] = testJobID
	}
	return nil
}

func (f *fakeStore) TransitionRun(ctx context.Context, runID string, expectedVersion int, newStatus carrottypes.RunStatus, errMsg string) (bool, error) {
	f.transitions = append(f.transitions, newStatus)
	return true, nil
}

func (f *fakeStore) GetWDLHash(ctx context.Context, hash string) (*carrottypes.WDLHash, error) {
	return nil, nil
}

func (f *fakeStore) PutWDLHash(ctx context.Context, w carrottypes.WDLHash) error {
	return nil
}

func fakeValidator(t *testing.T) *womtool.Validator {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "java")
	script := "#!/bin/sh\necho valid\nexit 0\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return womtool.NewWithJavaBin("unused.jar", path)
}

func newCoordinator(t *testing.T, fs *fakeStore, cromwellURL string) *Coordinator {
	engine := cromwell.New(cromwellURL, time.Second)
	coord := buildcoordinator.New(fs, engine, gitmirror.New(), "", nil)
	wdl, err := objectstorage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	sub := submitter.New(fs, engine, coord, wdl, fakeValidator(t), nil)
	return New(fs, sub, wdl, nil)
}

func writeWDL(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHandleMessage_SingleTriggerCreatesOneRunAndGroup(t *testing.T) {
	dir := t.TempDir()
	template := &carrottypes.Template{
		TemplateID: "tmpl1",
		TestWDL:    writeWDL(t, dir, "test.wdl", "workflow W {}"),
		EvalWDL:    writeWDL(t, dir, "eval.wdl", "workflow E {}"),
	}
	test := &carrottypes.Test{
		TestID:     "t1",
		TemplateID: "tmpl1",
		Name:       "my-test",
		TestInput:  json.RawMessage(`{"W.x": 1}`),
		EvalInput:  json.RawMessage(`{"E.x": 1}`),
	}
	fs := &fakeStore{test: test, template: template}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "Submitted"})
	}))
	defer srv.Close()

	c := newCoordinator(t, fs, srv.URL)

	msg := carrottypes.GitHubPubsubMessage{
		Kind:        carrottypes.GitHubTriggerSingle,
		Owner:       "acme",
		Repo:        "widgets",
		IssueNumber: 7,
		Author:      "octocat",
		HeadCommit:  "deadbeef",
		TestName:    "my-test",
	}

	err := c.HandleMessage(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, fs.createdRuns, 1)
	assert.Equal(t, "t1", fs.createdRuns[0].TestID)
	require.Len(t, fs.createdGroups, 1)
	assert.Equal(t, carrottypes.RunGroupFromGitHub, fs.createdGroups[0].Provenance)
	require.Len(t, fs.groupMembers, 1)
	assert.Equal(t, fs.createdRuns[0].RunID, fs.groupMembers[0].RunID)
	assert.Equal(t, "job-1", *fs.jobIDs[fs.createdRuns[0].RunID])
}

func TestHandleMessage_ComparisonTriggerCreatesTwoRunsInOneGroup(t *testing.T) {
	dir := t.TempDir()
	template := &carrottypes.Template{
		TemplateID: "tmpl1",
		TestWDL:    writeWDL(t, dir, "test.wdl", "workflow W {}"),
		EvalWDL:    writeWDL(t, dir, "eval.wdl", "workflow E {}"),
	}
	test := &carrottypes.Test{
		TestID:     "t1",
		TemplateID: "tmpl1",
		Name:       "my-test",
		TestInput:  json.RawMessage(`{"W.x": 1}`),
		EvalInput:  json.RawMessage(`{"E.x": 1}`),
	}
	fs := &fakeStore{test: test, template: template}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-x", "status": "Submitted"})
	}))
	defer srv.Close()

	c := newCoordinator(t, fs, srv.URL)

	msg := carrottypes.GitHubPubsubMessage{
		Kind:       carrottypes.GitHubTriggerComparison,
		Owner:      "acme",
		Repo:       "widgets",
		Author:     "octocat",
		BaseCommit: "base123",
		HeadCommit: "head456",
		TestName:   "my-test",
	}

	err := c.HandleMessage(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, fs.createdRuns, 2)
	require.Len(t, fs.createdGroups, 1)
	require.Len(t, fs.groupMembers, 2)
	assert.NotEqual(t, fs.createdRuns[0].Name, fs.createdRuns[1].Name)
}

func TestHandleMessage_UnknownTestIsDroppedWithoutError(t *testing.T) {
	fs := &fakeStore{}
	c := newCoordinator(t, fs, "http://unused.invalid")

	err := c.HandleMessage(context.Background(), carrottypes.GitHubPubsubMessage{
		Kind:     carrottypes.GitHubTriggerSingle,
		TestName: "does-not-exist",
	})
	require.NoError(t, err)
	assert.Empty(t, fs.createdRuns)
}

func TestHandleMessage_PendingSoftwareBuildParksRunWithoutSurfacingError(t *testing.T) {
	dir := t.TempDir()
	template := &carrottypes.Template{
		TemplateID: "tmpl1",
		TestWDL:    writeWDL(t, dir, "test.wdl", "workflow W {}"),
		EvalWDL:    writeWDL(t, dir, "eval.wdl", "workflow E {}"),
	}
	commit := "0123456789abcdef0123456789abcdef01234567"
	test := &carrottypes.Test{
		TestID:     "t1",
		TemplateID: "tmpl1",
		Name:       "my-test",
		TestInput:  json.RawMessage(`{"W.image":"image_build:gatk|` + commit + `"}`),
		EvalInput:  json.RawMessage(`{"E.x": 1}`),
	}
	fs := &fakeStore{
		test:     test,
		template: template,
		software: &carrottypes.Software{SoftwareID: "sw1", Name: "gatk", RepoURL: "https://example.com/gatk.git"},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "build-job-1", "status": "Submitted"})
	}))
	defer srv.Close()

	c := newCoordinator(t, fs, srv.URL)

	msg := carrottypes.GitHubPubsubMessage{
		Kind:       carrottypes.GitHubTriggerSingle,
		Owner:      "acme",
		Repo:       "widgets",
		Author:     "octocat",
		HeadCommit: commit,
		TestName:   "my-test",
	}

	err := c.HandleMessage(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, fs.createdRuns, 1)
	assert.Equal(t, []carrottypes.RunStatus{carrottypes.RunBuilding}, fs.transitions)
	assert.Empty(t, fs.jobIDs)
}

func TestRebuildImageAtKey_SubstitutesCommitKeepingSoftwareName(t *testing.T) {
	input := json.RawMessage(`{"W.docker": "image_build:myapp|v1.0.0"}`)
	out, err := rebuildImageAtKey(input, "W.docker", "abc123")
	require.NoError(t, err)
	assert.JSONEq(t, `{"W.docker": "image_build:myapp|abc123"}`, string(out))
}

func TestRebuildImageAtKey_MissingKeyIsValidationError(t *testing.T) {
	input := json.RawMessage(`{"W.docker": "image_build:myapp|v1.0.0"}`)
	_, err := rebuildImageAtKey(input, "W.other", "abc123")
	require.Error(t, err)
	var cerr *carrottypes.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, carrottypes.ErrValidation, cerr.Kind)
}
