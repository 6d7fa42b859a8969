package archiver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// fakeStore implements only ArchiveFinishedRuns, returning batches of
// decreasing size so tests can assert the drain-until-short-batch loop.
type fakeStore struct {
	store.Provider
	batches     []int
	calls       int
	lastOlderThan time.Time
}

func (f *fakeStore) ArchiveFinishedRuns(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	f.lastOlderThan = olderThan
	if f.calls >= len(f.batches) {
		return 0, nil
	}
	n := f.batches[f.calls]
	f.calls++
	return n, nil
}

func TestNew_ParsesIntervalAndRetention(t *testing.T) {
	a, err := New(&fakeStore{}, carrottypes.ArchiverConfig{Interval: "1h", RetentionAfter: "720h"}, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, a.interval)
	assert.Equal(t, 720*time.Hour, a.retention)
}

func TestNew_DefaultsWhenUnset(t *testing.T) {
	a, err := New(&fakeStore{}, carrottypes.ArchiverConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultInterval, a.interval)
	assert.Equal(t, defaultRetentionAfter, a.retention)
}

func TestNew_InvalidDurationErrors(t *testing.T) {
	_, err := New(&fakeStore{}, carrottypes.ArchiverConfig{Interval: "nope"}, nil)
	require.Error(t, err)
}

func TestTick_DrainsBatchesUntilShortOfLimit(t *testing.T) {
	fs := &fakeStore{batches: []int{defaultBatchLimit, defaultBatchLimit, 3}}
	a, err := New(fs, carrottypes.ArchiverConfig{RetentionAfter: "24h"}, nil)
	require.NoError(t, err)

	a.tick(context.Background())
	assert.Equal(t, 3, fs.calls)
}

func TestTick_StopsImmediatelyOnShortFirstBatch(t *testing.T) {
	fs := &fakeStore{batches: []int{0}}
	a, err := New(fs, carrottypes.ArchiverConfig{}, nil)
	require.NoError(t, err)

	a.tick(context.Background())
	assert.Equal(t, 1, fs.calls)
}

func TestStartStop_RunsAndStopsCleanly(t *testing.T) {
	fs := &fakeStore{batches: []int{0}}
	a, err := New(fs, carrottypes.ArchiverConfig{Interval: "50ms"}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	a.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	a.Stop(ctx)
}
