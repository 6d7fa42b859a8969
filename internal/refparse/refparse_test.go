package refparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ImageBuild(t *testing.T) {
	ref := Parse("image_build:gatk|abc123")
	assert.Equal(t, ImageBuild, ref.Kind)
	assert.Equal(t, "gatk", ref.SoftwareName)
	assert.Equal(t, "abc123", ref.CommitOrTag)
}

func TestParse_TestOutput(t *testing.T) {
	ref := Parse("test_output:W.out")
	assert.Equal(t, TestOutput, ref.Kind)
	assert.Equal(t, "W", ref.Workflow)
	assert.Equal(t, "out", ref.OutputName)
}

func TestParse_Literal(t *testing.T) {
	ref := Parse("kevin")
	assert.Equal(t, Literal, ref.Kind)
	assert.Equal(t, "kevin", ref.Literal)
}

func TestIsCommitHash(t *testing.T) {
	assert.True(t, IsCommitHash("0123456789abcdef0123456789abcdef01234567"))
	assert.False(t, IsCommitHash("v1.2.3"))
	assert.False(t, IsCommitHash("abc123"))
}

func TestScanJSON_FindsNestedRefs(t *testing.T) {
	raw := []byte(`{"W.n":"kevin","E.g":"test_output:W.out","W.image":"image_build:gatk|v1.0"}`)
	refs, err := ScanJSON(raw)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	byPath := map[string]PathRef{}
	for _, r := range refs {
		byPath[r.Path] = r
	}
	require.Contains(t, byPath, "E.g")
	assert.Equal(t, TestOutput, byPath["E.g"].Ref.Kind)
	require.Contains(t, byPath, "W.image")
	assert.Equal(t, ImageBuild, byPath["W.image"].Ref.Kind)
}

func TestSubstitute_ReplacesResolvedPaths(t *testing.T) {
	raw := []byte(`{"W.image":"image_build:gatk|v1.0"}`)
	out, err := Substitute(raw, map[string]string{"W.image": "gcr.io/proj/gatk:abc123"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"W.image":"gcr.io/proj/gatk:abc123"}`, string(out))
}
