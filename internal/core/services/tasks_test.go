package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	queuemem "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/queue/memory"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func submitStats(t *testing.T, queue *queuemem.TaskQueue) string {
	t.Helper()
	task, err := domain.NewTask(domain.TaskKindStats, domain.MaintenancePayload{Reason: "test"})
	require.NoError(t, err)
	id, err := queue.Submit(context.Background(), task)
	require.NoError(t, err)
	return id
}

func TestTaskService_Retry(t *testing.T) {
	queue := queuemem.NewTaskQueue(3)
	pool := newTestPool(queue, time.Second)
	fail := atomic.Bool{}
	fail.Store(true)
	pool.Register(domain.TaskKindStats, HandlerFunc(func(_ context.Context, _ *domain.Task) ([]byte, error) {
		if fail.Load() {
			return nil, domain.ErrInvalidInput
		}
		return nil, nil
	}))
	id := submitStats(t, queue)
	tasks := NewTaskService(queue, pool)

	// Only dead tasks can be retried.
	require.ErrorIs(t, tasks.Retry(context.Background(), id), domain.ErrInvalidInput)
	require.Equal(t, domain.TaskDead, drain(t, pool, queue, id).State)

	fail.Store(false)
	require.NoError(t, tasks.Retry(context.Background(), id))
	task, err := queue.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskQueued, task.State)
	assert.Zero(t, task.Attempt)

	assert.Equal(t, domain.TaskSucceeded, drain(t, pool, queue, id).State)
	assert.Error(t, tasks.Retry(context.Background(), id))
}

func TestTaskService_Revoke(t *testing.T) {
	ctx := context.Background()
	queue := queuemem.NewTaskQueue(3)
	svc := NewTaskService(queue, nil)
	id := submitStats(t, queue)

	require.NoError(t, svc.Revoke(ctx, id))
	task, err := queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRevoked, task.State)

	assert.ErrorIs(t, svc.Revoke(ctx, ""), domain.ErrInvalidInput)
	assert.ErrorIs(t, svc.Retry(ctx, ""), domain.ErrInvalidInput)
}

func TestTaskService_List(t *testing.T) {
	ctx := context.Background()
	queue := queuemem.NewTaskQueue(3)
	svc := NewTaskService(queue, nil)
	submitStats(t, queue)
	submitStats(t, queue)

	tasks, err := svc.List(ctx, domain.TaskFilter{Lane: domain.LaneMaintenance})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = svc.List(ctx, domain.TaskFilter{Lane: domain.LaneEmbedding})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = svc.List(ctx, domain.TaskFilter{Lane: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.List(ctx, domain.TaskFilter{Kind: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
