package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostComment_SendsAuthorizedJSONPost(t *testing.T) {
	var gotAuth, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New("tok123")
	c.baseURL = srv.URL
	err := c.PostComment(context.Background(), "owner", "repo", 42, `run succeeded`)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, "/repos/owner/repo/issues/42/comments", gotPath)
	assert.Contains(t, gotBody, "run succeeded")
}

func TestPostComment_ServerErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("tok123")
	c.baseURL = srv.URL
	err := c.PostComment(context.Background(), "owner", "repo", 1, "x")
	assert.Error(t, err)
}
