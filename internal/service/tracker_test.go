package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklive/stagefun-sub002/internal/models"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
)

func TestSyncTrackerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := start
	env.tracker.now = func() time.Time { return clock }

	id, err := env.tracker.Start(ctx, JobPoolEvents, SourceManual, "base", 100, 200)
	require.NoError(t, err)

	run := mustRun(t, env, id)
	assert.Equal(t, models.SyncRunRunning, run.Status)
	assert.Nil(t, run.EndTime)

	clock = start.Add(1500 * time.Millisecond)
	counts := Counts{Found: 4, Processed: 2, Skipped: 1, Failed: 1}
	require.NoError(t, env.tracker.Complete(ctx, id, counts, nil))

	run = mustRun(t, env, id)
	assert.Equal(t, models.SyncRunCompleted, run.Status)
	assert.Equal(t, int64(1500), run.DurationMs)
	assert.Equal(t, 4, run.EventsFound)
	assert.Equal(t, 2, run.EventsProcessed)
	assert.Equal(t, 1, run.EventsSkipped)
	assert.Equal(t, 1, run.EventsFailed)

	err = env.tracker.Complete(ctx, id, Counts{}, nil)
	assert.True(t, errors.HasCode(err, errors.ErrSyncRun))
	assert.Equal(t, 4, mustRun(t, env, id).EventsFound, "a finalized run is never rewritten")
}

func TestSyncTrackerFailedRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.tracker.Start(ctx, JobPoolEvents, SourceWebhook, "base", 0, 0)
	require.NoError(t, err)
	require.NoError(t, env.tracker.Complete(ctx, id, Counts{Found: 1, Failed: 1}, fmt.Errorf("store unavailable")))

	run := mustRun(t, env, id)
	assert.Equal(t, models.SyncRunFailed, run.Status)
	assert.Equal(t, "store unavailable", run.ErrorMessage)
}

func TestSyncTrackerUnknownRun(t *testing.T) {
	env := newTestEnv(t)
	err := env.tracker.Complete(context.Background(), 42, Counts{}, nil)
	assert.True(t, errors.HasCode(err, errors.ErrSyncRun))
}

func TestSyncTrackerRecent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.tracker.Start(ctx, JobPoolEvents, SourceWebhook, "base", int64(i), int64(i))
		require.NoError(t, err)
	}
	_, err := env.tracker.Start(ctx, "other_job", SourceManual, "base", 0, 0)
	require.NoError(t, err)

	runs, err := env.tracker.Recent(ctx, JobPoolEvents, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, int64(2), runs[0].FromBlock)
	assert.Equal(t, int64(1), runs[1].FromBlock)

	all, err := env.tracker.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
