package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

func TestNewWDLStore_PrefersLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	st, err := newWDLStore(carrottypes.WDLStorageConfig{LocalDirectory: dir})
	require.NoError(t, err)
	require.NotNil(t, st)

	hash, loc, err := st.Put(context.Background(), []byte("version development-1.0.0\ntask hello { command { echo hi } }"))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.Contains(t, loc, dir)
}

func TestNewWDLStore_RequiresOneOfLocalOrObjectStore(t *testing.T) {
	_, err := newWDLStore(carrottypes.WDLStorageConfig{})
	assert.Error(t, err)
}
