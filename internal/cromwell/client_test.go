package cromwell

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

func TestSubmit_ParsesJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/workflows/v1", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(SubmitResult{ID: "job-1", Status: carrottypes.CromwellSubmitted})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	result, err := c.Submit(t.Context(), SubmitRequest{WorkflowSource: "workflow W {}"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", result.ID)
	assert.Equal(t, carrottypes.CromwellSubmitted, result.Status)
}

func TestStatus_ParsesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/workflows/v1/job-1/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": string(carrottypes.CromwellRunning)})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	result, err := c.Status(t.Context(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, carrottypes.CromwellRunning, result.Status)
}

func TestOutputs_ParsesOutputsMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/workflows/v1/job-1/outputs", r.URL.Path)
		_ = json.NewEncoder(w).Encode(OutputsResult{Outputs: map[string]interface{}{"W.out": "value"}})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	result, err := c.Outputs(t.Context(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "value", result.Outputs["W.out"])
}

func TestSubmit_ClassifiesClientErrorAsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad workflow"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Submit(t.Context(), SubmitRequest{WorkflowSource: "bad"})
	require.Error(t, err)
	var cerr *carrottypes.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, carrottypes.ErrExternalPermanent, cerr.Kind)
}

func TestAbort_Succeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/workflows/v1/job-1/abort", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	require.NoError(t, c.Abort(t.Context(), "job-1"))
}

func TestClassifyFailure_NilIsNil(t *testing.T) {
	assert.NoError(t, ClassifyFailure(nil))
}
