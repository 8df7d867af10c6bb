package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencoreharness/agentcore/internal/jobs"
)

func TestMemoryStoreCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()

	job := &jobs.Job{ID: "job-1", ToolName: "sub_agent", Status: jobs.StatusQueued, CreatedAt: time.Now()}
	require.NoError(t, store.Create(ctx, job))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusQueued, got.Status)

	got.Status = jobs.StatusSucceeded
	got.Result = "done"
	require.NoError(t, store.Update(ctx, got))

	reread, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusSucceeded, reread.Status)
	require.Equal(t, "done", reread.Result)
}

func TestMemoryStoreListIsInsertionOrdered(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, &jobs.Job{ID: id, CreatedAt: time.Now()}))
	}

	got, err := store.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "a", got[0].ID)
	require.Equal(t, "c", got[2].ID)
}

func TestMemoryStorePrunesOldJobs(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	require.NoError(t, store.Create(ctx, &jobs.Job{ID: "old", CreatedAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, store.Create(ctx, &jobs.Job{ID: "new", CreatedAt: time.Now()}))

	pruned, err := store.Prune(ctx, time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, pruned)

	got, err := store.Get(ctx, "old")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryStoreCancelInvokesCancelFunc(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	require.NoError(t, store.Create(ctx, &jobs.Job{ID: "job-1", Status: jobs.StatusRunning, CreatedAt: time.Now()}))

	cancelled := false
	store.SetCancelFunc("job-1", func() { cancelled = true })
	require.NoError(t, store.Cancel(ctx, "job-1"))
	require.True(t, cancelled)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, got.Status)
}
