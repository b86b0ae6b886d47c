package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestSchedulerStore_Tasks(t *testing.T) {
	store := NewSchedulerStore()
	ctx := context.Background()

	got, err := store.GetTask(ctx, domain.TaskIDIndexStats)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{ID: domain.TaskIDIndexStats, Interval: time.Minute}))
	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{ID: domain.TaskIDCorpusRefresh, Interval: time.Hour}))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, domain.TaskIDCorpusRefresh, tasks[0].ID)

	require.NoError(t, store.DeleteTask(ctx, domain.TaskIDIndexStats))
	got, err = store.GetTask(ctx, domain.TaskIDIndexStats)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, store.SaveTask(ctx, nil), domain.ErrInvalidInput)
}

func TestSchedulerStore_HistoryAndPrune(t *testing.T) {
	store := NewSchedulerStore()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.RecordResult(ctx, &domain.TaskResult{TaskID: "x", TasksSubmitted: i}))
	}

	history, err := store.GetTaskHistory(ctx, "x", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].TasksSubmitted)

	require.NoError(t, store.PruneHistory(ctx, 1))
	history, err = store.GetTaskHistory(ctx, "x", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 3, history[0].TasksSubmitted)
}
