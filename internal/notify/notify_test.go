package notify

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// fakeStore implements only the store.Provider methods the dispatcher
// calls; anything else panics via the nil embedded interface.
type fakeStore struct {
	store.Provider
	tests         map[string]*carrottypes.Test
	templates     map[string]*carrottypes.Template
	results       map[string]*carrottypes.Result
	subscriptions map[string][]carrottypes.Subscription // keyed by entity|id
	runResults    map[string][]carrottypes.RunResult
	runErrors     map[string][]carrottypes.RunError
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tests:         map[string]*carrottypes.Test{},
		templates:     map[string]*carrottypes.Template{},
		results:       map[string]*carrottypes.Result{},
		subscriptions: map[string][]carrottypes.Subscription{},
		runResults:    map[string][]carrottypes.RunResult{},
		runErrors:     map[string][]carrottypes.RunError{},
	}
}

func (f *fakeStore) GetTest(ctx context.Context, id string) (*carrottypes.Test, error) {
	return f.tests[id], nil
}

func (f *fakeStore) GetTemplate(ctx context.Context, id string) (*carrottypes.Template, error) {
	return f.templates[id], nil
}

func (f *fakeStore) GetResult(ctx context.Context, id string) (*carrottypes.Result, error) {
	return f.results[id], nil
}

func (f *fakeStore) ListSubscriptions(ctx context.Context, entity carrottypes.SubscriptionEntity, entityID string) ([]carrottypes.Subscription, error) {
	return f.subscriptions[string(entity)+"|"+entityID], nil
}

func (f *fakeStore) ListRunResultsByRun(ctx context.Context, runID string) ([]carrottypes.RunResult, error) {
	return f.runResults[runID], nil
}

func (f *fakeStore) ListRunErrors(ctx context.Context, runID string) ([]carrottypes.RunError, error) {
	return f.runErrors[runID], nil
}

// recordingSink captures every Send call instead of delivering anywhere.
type recordingSink struct {
	sent []string
	fail map[string]bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, to string, _ Notification) error {
	if s.fail[to] {
		return assert.AnError
	}
	s.sent = append(s.sent, to)
	return nil
}

func sampleRun(status carrottypes.RunStatus) carrottypes.Run {
	finished := time.Now()
	return carrottypes.Run{
		RunID:     "run1",
		Name:      "my-run",
		TestID:    "t1",
		Status:    status,
		CreatedBy: "creator@example.com",
		FinishedAt: &finished,
	}
}

func TestOnRunTerminal_UnionsSubscribersAcrossScopesAndCreator(t *testing.T) {
	fs := newFakeStore()
	fs.tests["t1"] = &carrottypes.Test{TestID: "t1", TemplateID: "tmpl1"}
	fs.templates["tmpl1"] = &carrottypes.Template{TemplateID: "tmpl1", PipelineID: "pipe1"}
	fs.subscriptions["test|t1"] = []carrottypes.Subscription{{Email: "test-sub@example.com"}}
	fs.subscriptions["template|tmpl1"] = []carrottypes.Subscription{{Email: "template-sub@example.com"}}
	fs.subscriptions["pipeline|pipe1"] = []carrottypes.Subscription{{Email: "pipeline-sub@example.com"}}

	sink := &recordingSink{}
	d := New(fs, sink, nil)

	err := d.OnRunTerminal(context.Background(), sampleRun(carrottypes.RunSucceeded))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"test-sub@example.com", "template-sub@example.com", "pipeline-sub@example.com", "creator@example.com",
	}, sink.sent)
}

func TestOnRunTerminal_DedupesRepeatedAddress(t *testing.T) {
	fs := newFakeStore()
	fs.tests["t1"] = &carrottypes.Test{TestID: "t1", TemplateID: "tmpl1"}
	fs.templates["tmpl1"] = &carrottypes.Template{TemplateID: "tmpl1", PipelineID: "pipe1"}
	fs.subscriptions["test|t1"] = []carrottypes.Subscription{{Email: "shared@example.com"}}
	fs.subscriptions["pipeline|pipe1"] = []carrottypes.Subscription{{Email: "shared@example.com"}}

	run := sampleRun(carrottypes.RunTestFailed)
	run.CreatedBy = "shared@example.com"

	sink := &recordingSink{}
	d := New(fs, sink, nil)
	require.NoError(t, d.OnRunTerminal(context.Background(), run))

	assert.Equal(t, []string{"shared@example.com"}, sink.sent)
}

func TestOnRunTerminal_NoSubscribersIsNoOp(t *testing.T) {
	fs := newFakeStore()
	fs.tests["t1"] = &carrottypes.Test{TestID: "t1", TemplateID: "tmpl1"}
	fs.templates["tmpl1"] = &carrottypes.Template{TemplateID: "tmpl1", PipelineID: "pipe1"}

	run := sampleRun(carrottypes.RunSucceeded)
	run.CreatedBy = ""

	sink := &recordingSink{}
	d := New(fs, sink, nil)
	require.NoError(t, d.OnRunTerminal(context.Background(), run))
	assert.Empty(t, sink.sent)
}

func TestOnRunTerminal_SinkFailureIsLoggedNotReturned(t *testing.T) {
	fs := newFakeStore()
	fs.tests["t1"] = &carrottypes.Test{TestID: "t1", TemplateID: "tmpl1"}
	fs.templates["tmpl1"] = &carrottypes.Template{TemplateID: "tmpl1", PipelineID: "pipe1"}

	run := sampleRun(carrottypes.RunCarrotFailed)
	sink := &recordingSink{fail: map[string]bool{"creator@example.com": true}}
	d := New(fs, sink, nil)

	err := d.OnRunTerminal(context.Background(), run)
	require.NoError(t, err)
	assert.Empty(t, sink.sent)
}

func TestBuildNotification_IncludesResultsAndErrors(t *testing.T) {
	fs := newFakeStore()
	fs.tests["t1"] = &carrottypes.Test{TestID: "t1", TemplateID: "tmpl1"}
	fs.templates["tmpl1"] = &carrottypes.Template{TemplateID: "tmpl1", PipelineID: "pipe1"}
	fs.results["res1"] = &carrottypes.Result{ResultID: "res1", Name: "output_file"}
	fs.runResults["run1"] = []carrottypes.RunResult{{RunID: "run1", ResultID: "res1", Value: "gs://bucket/out.txt"}}
	fs.runErrors["run1"] = []carrottypes.RunError{{RunID: "run1", Message: "cromwell timeout"}}

	d := New(fs, &recordingSink{}, nil)
	n, err := d.buildNotification(context.Background(), sampleRun(carrottypes.RunTestFailed))
	require.NoError(t, err)

	assert.Equal(t, "gs://bucket/out.txt", n.Results["output_file"])
	assert.Equal(t, []string{"cromwell timeout"}, n.ErrorLog)

	body, err := renderBody(n)
	require.NoError(t, err)
	assert.Contains(t, body, "output_file")
	assert.Contains(t, body, "cromwell timeout")
}

func TestNewSink_SelectsByMode(t *testing.T) {
	none, err := NewSink(carrottypes.EmailConfig{Mode: carrottypes.EmailModeNone})
	require.NoError(t, err)
	assert.Equal(t, "none", none.Name())

	smtpSink, err := NewSink(carrottypes.EmailConfig{Mode: carrottypes.EmailModeSMTP, SMTPHost: "localhost", SMTPPort: 25})
	require.NoError(t, err)
	assert.Equal(t, "smtp", smtpSink.Name())

	_, err = NewSink(carrottypes.EmailConfig{Mode: carrottypes.EmailModeSMTP})
	require.Error(t, err)

	_, err = NewSink(carrottypes.EmailConfig{Mode: "bogus"})
	require.Error(t, err)
}

// fakeSendmail builds a SendmailSink whose "sendmail" binary is a tiny
// shell script, so the test exercises the subprocess plumbing without a
// real MTA installed, the same fake-binary pattern internal/womtool uses.
func fakeSendmail(t *testing.T, script string) *SendmailSink {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "sendmail")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return NewSendmailSinkWithBin(carrottypes.EmailConfig{From: "carrot@example.com"}, path)
}

func TestSendmailSink_PipesRenderedMessageToStdin(t *testing.T) {
	dir := t.TempDir()
	captured := filepath.Join(dir, "captured.txt")
	sink := fakeSendmail(t, "cat > "+captured)

	n := Notification{RunID: "run1", RunName: "my-run", Status: carrottypes.RunSucceeded}
	require.NoError(t, sink.Send(context.Background(), "watcher@example.com", n))

	data, err := os.ReadFile(captured)
	require.NoError(t, err)
	assert.Contains(t, string(data), "To: watcher@example.com")
	assert.Contains(t, string(data), "run1")
}

func TestSendmailSink_NonZeroExitIsExternalTransientError(t *testing.T) {
	sink := fakeSendmail(t, "echo 'relay refused' >&2 && exit 1")
	err := sink.Send(context.Background(), "watcher@example.com", Notification{RunID: "run1"})
	require.Error(t, err)
	var cerr *carrottypes.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, carrottypes.ErrExternalTransient, cerr.Kind)
}
