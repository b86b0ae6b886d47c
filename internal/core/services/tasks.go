package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// Ensure TaskService implements the interface.
var _ driving.TaskService = (*TaskService)(nil)

// TaskService administers the task queue.
type TaskService struct {
	queue driven.TaskQueue
	pool  *WorkerPool
}

// NewTaskService creates a task service. pool may be nil when this
// process runs no workers; running tasks are then stopped by their
// own heartbeat once the revocation is observed.
func NewTaskService(queue driven.TaskQueue, pool *WorkerPool) *TaskService {
	return &TaskService{queue: queue, pool: pool}
}

// Revoke marks a task revoked and cancels it if it runs in this process.
func (s *TaskService) Revoke(ctx context.Context, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("%w: task id is required", domain.ErrInvalidInput)
	}
	if err := s.queue.Revoke(ctx, taskID); err != nil {
		return err
	}
	if s.pool != nil && s.pool.Cancel(taskID) {
		logger.Info("tasks: cancelled running task %s", taskID)
	}
	return nil
}

// Retry re-queues a dead task.
func (s *TaskService) Retry(ctx context.Context, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("%w: task id is required", domain.ErrInvalidInput)
	}
	return s.queue.Retry(ctx, taskID)
}

// List returns tasks matching the filter.
func (s *TaskService) List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	if filter.Lane != "" && !filter.Lane.IsValid() {
		return nil, fmt.Errorf("%w: lane %q", domain.ErrInvalidInput, filter.Lane)
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, fmt.Errorf("%w: kind %q", domain.ErrInvalidInput, filter.Kind)
	}
	return s.queue.List(ctx, filter)
}

// Handlers groups the task handlers a worker process runs.
// Nil handlers are not registered.
type Handlers struct {
	Embedder    *EmbeddingWorker
	Builder     *IndexBuilder
	Coordinator *HotSwapCoordinator
	Maintenance *Maintenance
}

// RegisterHandlers binds every task kind to its handler.
func RegisterHandlers(pool *WorkerPool, h Handlers) {
	if h.Embedder != nil {
		pool.Register(domain.TaskKindEmbed, HandlerFunc(h.Embedder.HandleEmbed))
	}
	if h.Builder != nil {
		pool.Register(domain.TaskKindBuildIndex, HandlerFunc(h.Builder.HandleBuild))
	}
	if h.Coordinator != nil {
		pool.Register(domain.TaskKindHotSwap, HandlerFunc(h.Coordinator.HandleSwap))
	}
	if h.Maintenance != nil {
		pool.Register(domain.TaskKindCleanup, HandlerFunc(h.Maintenance.HandleCleanup))
		pool.Register(domain.TaskKindStats, HandlerFunc(h.Maintenance.HandleStats))
	}
}
