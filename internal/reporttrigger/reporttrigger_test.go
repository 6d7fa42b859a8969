package reporttrigger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrotsystems/carrot/internal/cromwell"
	"github.com/carrotsystems/carrot/internal/objectstorage"
	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// fakeStore implements only the store.Provider methods the trigger calls;
// any other call panics via the nil embedded interface.
type fakeStore struct {
	store.Provider
	tests        map[string]*carrottypes.Test
	results      map[string]*carrottypes.Result
	reports      map[string]*carrottypes.Report
	mappings     map[string][]carrottypes.TemplateReport // keyed by templateID|trigger
	groupsForRun map[string][]string
	groupMembers map[string][]carrottypes.Run
	runResults   map[string][]carrottypes.RunResult
	reportMaps   map[string]*carrottypes.ReportMap // keyed by entityType|entityID|reportID
	created      []carrottypes.ReportMap
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tests:        map[string]*carrottypes.Test{},
		results:      map[string]*carrottypes.Result{},
		reports:      map[string]*carrottypes.Report{},
		mappings:     map[string][]carrottypes.TemplateReport{},
		groupsForRun: map[string][]string{},
		groupMembers: map[string][]carrottypes.Run{},
		runResults:   map[string][]carrottypes.RunResult{},
		reportMaps:   map[string]*carrottypes.ReportMap{},
	}
}

func (f *fakeStore) GetTest(ctx context.Context, id string) (*carrottypes.Test, error) {
	return f.tests[id], nil
}

func (f *fakeStore) GetResult(ctx context.Context, id string) (*carrottypes.Result, error) {
	return f.results[id], nil
}

func (f *fakeStore) GetReport(ctx context.Context, id string) (*carrottypes.Report, error) {
	return f.reports[id], nil
}

func (f *fakeStore) ListTemplateReportsByTrigger(ctx context.Context, templateID string, trigger carrottypes.ReportTrigger) ([]carrottypes.TemplateReport, error) {
	return f.mappings[templateID+"|"+string(trigger)], nil
}

func (f *fakeStore) ListRunGroupsForRun(ctx context.Context, runID string) ([]string, error) {
	return f.groupsForRun[runID], nil
}

func (f *fakeStore) ListRunsInGroup(ctx context.Context, groupID string) ([]carrottypes.Run, error) {
	return f.groupMembers[groupID], nil
}

func (f *fakeStore) ListRunResultsByRun(ctx context.Context, runID string) ([]carrottypes.RunResult, error) {
	return f.runResults[runID], nil
}

func (f *fakeStore) GetReportMapByEntity(ctx context.Context, entityType carrottypes.Reportable, entityID, reportID string) (*carrottypes.ReportMap, error) {
	return f.reportMaps[string(entityType)+"|"+entityID+"|"+reportID], nil
}

func (f *fakeStore) CreateReportMap(ctx context.Context, rm carrottypes.ReportMap) error {
	f.created = append(f.created, rm)
	f.reportMaps[string(rm.EntityType)+"|"+rm.EntityID+"|"+rm.ReportID] = &rm
	return nil
}

func newTrigger(t *testing.T, fs *fakeStore, cromwellURL string) *Trigger {
	t.Helper()
	engine := cromwell.New(cromwellURL, time.Second)
	wdl, err := objectstorage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	cfg := carrottypes.ReportingConfig{Enabled: true, ReportDockerImage: "example.com/report:latest"}
	return New(fs, engine, wdl, "workflow generate_report_file_workflow {}", cfg, nil)
}

func sampleRun(runID, testID string, status carrottypes.RunStatus) carrottypes.Run {
	now := time.Now()
	return carrottypes.Run{
		RunID:     runID,
		TestID:    testID,
		Name:      "run-" + runID,
		Status:    status,
		TestInput: json.RawMessage(`{"W.x": "1"}`),
		EvalInput: json.RawMessage(`{"E.x": "2"}`),
		CreatedAt: now,
	}
}

func TestOnRunTerminal_SingleTriggerSubmitsReport(t *testing.T) {
	fs := newFakeStore()
	fs.tests["t1"] = &carrottypes.Test{TestID: "t1", TemplateID: "tmpl1", Name: "my-test"}
	fs.reports["r1"] = &carrottypes.Report{
		ReportID: "r1",
		Name:     "demo report",
		Notebook: json.RawMessage(`{"cells": [], "nbformat": 4}`),
	}
	fs.mappings["tmpl1|single"] = []carrottypes.TemplateReport{{TemplateID: "tmpl1", ReportID: "r1", Trigger: carrottypes.ReportTriggerSingle}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "report-job-1", "status": "Submitted"})
	}))
	defer srv.Close()

	trg := newTrigger(t, fs, srv.URL)
	run := sampleRun("run1", "t1", carrottypes.RunSucceeded)

	err := trg.OnRunTerminal(context.Background(), run)
	require.NoError(t, err)

	require.Len(t, fs.created, 1)
	assert.Equal(t, carrottypes.ReportableRun, fs.created[0].EntityType)
	assert.Equal(t, "run1", fs.created[0].EntityID)
	assert.Equal(t, "r1", fs.created[0].ReportID)
	require.NotNil(t, fs.created[0].CromwellJobID)
	assert.Equal(t, "report-job-1", *fs.created[0].CromwellJobID)
}

func TestOnRunTerminal_SkipsWhenReportMapAlreadyExists(t *testing.T) {
	fs := newFakeStore()
	fs.tests["t1"] = &carrottypes.Test{TestID: "t1", TemplateID: "tmpl1", Name: "my-test"}
	fs.mappings["tmpl1|single"] = []carrottypes.TemplateReport{{TemplateID: "tmpl1", ReportID: "r1", Trigger: carrottypes.ReportTriggerSingle}}
	fs.reportMaps["run|run1|r1"] = &carrottypes.ReportMap{ReportMapID: "existing", ReportID: "r1", EntityType: carrottypes.ReportableRun, EntityID: "run1"}

	trg := newTrigger(t, fs, "http://unused.invalid")
	run := sampleRun("run1", "t1", carrottypes.RunSucceeded)

	err := trg.OnRunTerminal(context.Background(), run)
	require.NoError(t, err)
	assert.Empty(t, fs.created)
}

func TestOnRunTerminal_FailedRunSkipsSingleTriggerButStillChecksGroup(t *testing.T) {
	fs := newFakeStore()
	fs.tests["t1"] = &carrottypes.Test{TestID: "t1", TemplateID: "tmpl1", Name: "my-test"}
	fs.reports["r2"] = &carrottypes.Report{ReportID: "r2", Notebook: json.RawMessage(`{"cells": []}`)}
	fs.mappings["tmpl1|pr"] = []carrottypes.TemplateReport{{TemplateID: "tmpl1", ReportID: "r2", Trigger: carrottypes.ReportTriggerPR}}

	head := sampleRun("head1", "t1", carrottypes.RunTestFailed)
	base := sampleRun("base1", "t1", carrottypes.RunSucceeded)
	fs.groupsForRun["head1"] = []string{"grp1"}
	fs.groupMembers["grp1"] = []carrottypes.Run{base, head}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "report-job-2", "status": "Submitted"})
	}))
	defer srv.Close()

	trg := newTrigger(t, fs, srv.URL)
	err := trg.OnRunTerminal(context.Background(), head)
	require.NoError(t, err)

	require.Len(t, fs.created, 1)
	assert.Equal(t, carrottypes.ReportableRunGroup, fs.created[0].EntityType)
	assert.Equal(t, "grp1", fs.created[0].EntityID)
}

func TestOnRunTerminal_GroupNotYetAllTerminalDoesNothing(t *testing.T) {
	fs := newFakeStore()
	fs.tests["t1"] = &carrottypes.Test{TestID: "t1", TemplateID: "tmpl1"}
	fs.mappings["tmpl1|pr"] = []carrottypes.TemplateReport{{TemplateID: "tmpl1", ReportID: "r2", Trigger: carrottypes.ReportTriggerPR}}

	head := sampleRun("head1", "t1", carrottypes.RunSucceeded)
	base := sampleRun("base1", "t1", carrottypes.RunTestSubmitted)
	fs.groupsForRun["head1"] = []string{"grp1"}
	fs.groupMembers["grp1"] = []carrottypes.Run{base, head}

	trg := newTrigger(t, fs, "http://unused.invalid")
	err := trg.OnRunTerminal(context.Background(), head)
	require.NoError(t, err)
	assert.Empty(t, fs.created)
}

func TestOnRunTerminal_DisabledConfigIsNoOp(t *testing.T) {
	fs := newFakeStore()
	fs.tests["t1"] = &carrottypes.Test{TestID: "t1", TemplateID: "tmpl1"}
	fs.mappings["tmpl1|single"] = []carrottypes.TemplateReport{{TemplateID: "tmpl1", ReportID: "r1", Trigger: carrottypes.ReportTriggerSingle}}

	trg := newTrigger(t, fs, "http://unused.invalid")
	trg.config.Enabled = false
	run := sampleRun("run1", "t1", carrottypes.RunSucceeded)

	err := trg.OnRunTerminal(context.Background(), run)
	require.NoError(t, err)
	assert.Empty(t, fs.created)
}

func TestWriteJSONFieldCSV_UnionsKeysAcrossRuns(t *testing.T) {
	runs := []carrottypes.Run{
		{RunID: "a", TestInput: json.RawMessage(`{"x": "1"}`)},
		{RunID: "b", TestInput: json.RawMessage(`{"x": "2", "y": "3"}`)},
	}
	data, err := writeJSONFieldCSV(runs, func(r carrottypes.Run) json.RawMessage { return r.TestInput })
	require.NoError(t, err)
	assert.Contains(t, string(data), "run_id,x,y")
	assert.Contains(t, string(data), "a,1,")
	assert.Contains(t, string(data), "b,2,3")
}

func TestZipCSVBundle_ProducesAllSixFiles(t *testing.T) {
	bundle := csvBundle{
		Metadata:    []byte("run_id\n"),
		TestInputs:  []byte("run_id\n"),
		EvalInputs:  []byte("run_id\n"),
		TestOptions: []byte("run_id\n"),
		EvalOptions: []byte("run_id\n"),
		Results:     []byte("run_id\n"),
	}
	data, err := zipCSVBundle(bundle)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestMaterializeNotebook_SingleRunPrependsMetadataCell(t *testing.T) {
	notebook := json.RawMessage(`{"cells": [{"cell_type": "markdown", "source": ["existing"]}], "nbformat": 4}`)
	run := sampleRun("run1", "t1", carrottypes.RunSucceeded)

	out, err := materializeNotebook(notebook, "my-test", []carrottypes.Run{run})
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &doc))
	var cells []json.RawMessage
	require.NoError(t, json.Unmarshal(doc["cells"], &cells))
	require.Len(t, cells, 2)
	assert.Contains(t, string(cells[0]), "Run ID: run1")
}
