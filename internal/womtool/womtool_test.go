package womtool

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJar builds a Validator whose "java" binary is a tiny shell script
// standing in for the JVM + womtool.jar combination, so the test exercises
// the subprocess plumbing without depending on a real womtool install.
func fakeJar(t *testing.T, script string) *Validator {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "java")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return NewWithJavaBin("unused.jar", path)
}

func TestValidate_SuccessReportsOK(t *testing.T) {
	v := fakeJar(t, "echo 'Valid' && exit 0")
	result, err := v.Validate(context.Background(), []byte("workflow W {}"))
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Contains(t, result.Message, "Valid")
}

func TestValidate_NonZeroExitReportsFailureNotError(t *testing.T) {
	v := fakeJar(t, "echo 'ERROR: bad syntax' >&2 && exit 1")
	result, err := v.Validate(context.Background(), []byte("not wdl"))
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Contains(t, result.Message, "bad syntax")
}
