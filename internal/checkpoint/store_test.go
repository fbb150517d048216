package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/osint-platform/crawler-core/internal/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveCheckpointThenLoad(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewStore(dir)

	snap := checkpoint.Snapshot{
		Visited:  []string{"https://example.com/"},
		Frontier: []checkpoint.QueueItemSnapshot{{URL: "https://example.com/a", Depth: 1}},
		Stats:    checkpoint.CrawlStats{TotalPages: 1, SuccessfulPages: 1},
		Timestamp: time.Now(),
	}

	err := store.SaveCheckpoint("run-1", snap)
	require.Nil(t, err)

	loaded, ok := store.Load("run-1")
	require.True(t, ok)
	assert.Equal(t, []string{"https://example.com/"}, loaded.Visited)
	assert.Equal(t, 1, loaded.Stats.TotalPages)
	assert.Equal(t, "run-1", loaded.RunID)
}

func TestStore_LoadMissingReturnsNoState(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewStore(dir)

	_, ok := store.Load("no-such-run")
	assert.False(t, ok)
}

func TestStore_LoadCorruptFileReturnsNoState(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewStore(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "run-2.checkpoint.json"), []byte("{not json"), 0644))

	_, ok := store.Load("run-2")
	assert.False(t, ok)
}

func TestStore_CheckpointPreferredOverFinal(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewStore(dir)

	require.Nil(t, store.SaveFinal("run-3", checkpoint.Snapshot{Stats: checkpoint.CrawlStats{TotalPages: 99}}))
	require.Nil(t, store.SaveCheckpoint("run-3", checkpoint.Snapshot{Stats: checkpoint.CrawlStats{TotalPages: 5}}))

	loaded, ok := store.Load("run-3")
	require.True(t, ok)
	assert.Equal(t, 5, loaded.Stats.TotalPages)
}

func TestStore_DeleteRemovesBothFiles(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewStore(dir)

	require.Nil(t, store.SaveCheckpoint("run-4", checkpoint.Snapshot{}))
	require.Nil(t, store.SaveFinal("run-4", checkpoint.Snapshot{}))

	store.Delete("run-4")

	_, ok := store.Load("run-4")
	assert.False(t, ok)
}

func TestCrawlStats_RecordSuccessTracksRunningMean(t *testing.T) {
	var s checkpoint.CrawlStats
	s.RecordSuccess(3, 1, 100*time.Millisecond)
	s.RecordSuccess(1, 0, 300*time.Millisecond)

	assert.Equal(t, 2, s.TotalPages)
	assert.Equal(t, 2, s.SuccessfulPages)
	assert.Equal(t, 4, s.TotalLinks)
	assert.Equal(t, 1, s.TotalForms)
	assert.InDelta(t, 200, s.MeanLoadTimeMs, 0.001)
}

func TestCrawlStats_RecordFailureDoesNotAffectMean(t *testing.T) {
	var s checkpoint.CrawlStats
	s.RecordSuccess(0, 0, 100*time.Millisecond)
	s.RecordFailure()

	assert.Equal(t, 2, s.TotalPages)
	assert.Equal(t, 1, s.FailedPages)
	assert.InDelta(t, 100, s.MeanLoadTimeMs, 0.001)
}
