package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestSchedulerStore_SaveAndGetTask(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	now := time.Now().UTC().Truncate(time.Second)
	task := &domain.ScheduledTask{
		ID:          domain.TaskIDCorpusRefresh,
		Name:        "Corpus Refresh",
		Interval:    6 * time.Hour,
		LastRun:     now.Add(-time.Hour),
		NextRun:     now.Add(5 * time.Hour),
		LastSuccess: now.Add(-time.Hour),
		Enabled:     true,
	}
	require.NoError(t, schedulerStore.SaveTask(ctx, task))

	retrieved, err := schedulerStore.GetTask(ctx, domain.TaskIDCorpusRefresh)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, *task, *retrieved)
}

func TestSchedulerStore_GetTask_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	task, err := store.SchedulerStore().GetTask(context.Background(), "non-existent")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestSchedulerStore_SaveTask_UpdateAndList(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	task := &domain.ScheduledTask{ID: domain.TaskIDIndexStats, Name: "Index Stats", Interval: 5 * time.Minute, Enabled: true}
	require.NoError(t, schedulerStore.SaveTask(ctx, task))
	require.NoError(t, schedulerStore.SaveTask(ctx, &domain.ScheduledTask{
		ID: domain.TaskIDIndexCleanup, Name: "Index Cleanup", Interval: 24 * time.Hour,
	}))

	task.LastError = "queue unavailable"
	task.Enabled = false
	require.NoError(t, schedulerStore.SaveTask(ctx, task))

	tasks, err := schedulerStore.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, domain.TaskIDIndexCleanup, tasks[0].ID)
	assert.Equal(t, domain.TaskIDIndexStats, tasks[1].ID)
	assert.Equal(t, "queue unavailable", tasks[1].LastError)
	assert.False(t, tasks[1].Enabled)

	assert.ErrorIs(t, schedulerStore.SaveTask(ctx, nil), domain.ErrInvalidInput)
}

func TestSchedulerStore_HistoryAndPrune(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	schedulerStore := store.SchedulerStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, schedulerStore.RecordResult(ctx, &domain.TaskResult{
			TaskID:         domain.TaskIDCorpusRefresh,
			StartedAt:      base.Add(time.Duration(i) * time.Minute),
			EndedAt:        base.Add(time.Duration(i)*time.Minute + time.Second),
			Success:        i%2 == 0,
			TasksSubmitted: i,
		}))
	}
	require.NoError(t, schedulerStore.RecordResult(ctx, &domain.TaskResult{
		TaskID: domain.TaskIDIndexStats, StartedAt: base, EndedAt: base, Success: true,
	}))

	history, err := schedulerStore.GetTaskHistory(ctx, domain.TaskIDCorpusRefresh, 10)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, 4, history[0].TasksSubmitted)
	assert.Equal(t, base.Add(4*time.Minute), history[0].StartedAt)

	require.NoError(t, schedulerStore.PruneHistory(ctx, 2))

	history, err = schedulerStore.GetTaskHistory(ctx, domain.TaskIDCorpusRefresh, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 4, history[0].TasksSubmitted)
	assert.Equal(t, 3, history[1].TasksSubmitted)

	stats, err := schedulerStore.GetTaskHistory(ctx, domain.TaskIDIndexStats, 10)
	require.NoError(t, err)
	assert.Len(t, stats, 1)
}

func TestSchedulerStore_DeleteTask(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	require.NoError(t, schedulerStore.SaveTask(ctx, &domain.ScheduledTask{ID: "x", Name: "X", Interval: time.Minute}))
	require.NoError(t, schedulerStore.RecordResult(ctx, &domain.TaskResult{TaskID: "x"}))
	require.NoError(t, schedulerStore.DeleteTask(ctx, "x"))

	task, err := schedulerStore.GetTask(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, task)

	history, err := schedulerStore.GetTaskHistory(ctx, "x", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}
